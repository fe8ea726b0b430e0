package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/onbonsai/launchpad-sub000/internal/model"
)

// launchpadABI holds the launchpad contract's Trade event.
const launchpadABI = `[
  {
    "type": "event",
    "name": "Trade",
    "anonymous": false,
    "inputs": [
      {"name": "clubId", "type": "uint256", "indexed": true},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "isBuy", "type": "bool", "indexed": false},
      {"name": "actor", "type": "address", "indexed": true},
      {"name": "price", "type": "uint256", "indexed": false},
      {"name": "fees", "type": "uint256", "indexed": false}
    ]
  }
]`

const tradeEventName = "Trade"

var (
	// ErrInvalidLog is returned for logs that are not well-formed Trade events.
	ErrInvalidLog = errors.New("invalid trade log")

	// ErrInvalidTokenInfo is returned for packed metadata that cannot be decoded.
	ErrInvalidTokenInfo = errors.New("invalid token info")

	parsedABI = mustParseABI(launchpadABI)

	// TradeTopic is topic0 of every Trade log.
	TradeTopic = parsedABI.Events[tradeEventName].ID

	// tokenInfoArgs is the (name, symbol, uri) layout of the packed metadata blob.
	tokenInfoArgs = mustStringArgs(3)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid launchpad ABI: %v", err))
	}
	return parsed
}

func mustStringArgs(n int) abi.Arguments {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	args := make(abi.Arguments, n)
	for i := range args {
		args[i] = abi.Argument{Type: stringType}
	}
	return args
}

// tradeData mirrors the non-indexed Trade fields.
type tradeData struct {
	Amount *big.Int
	IsBuy  bool
	Price  *big.Int
	Fees   *big.Int
}

// MarketTopic encodes a market id as an indexed topic.
func MarketTopic(marketID *big.Int) common.Hash {
	return common.BigToHash(marketID)
}

// DecodeTradeLog decodes the topics and data of a Trade log.
func DecodeTradeLog(topics []common.Hash, data []byte) (model.TradeEvent, error) {
	if len(topics) != 3 {
		return model.TradeEvent{}, fmt.Errorf("%w: expected 3 topics, got %d", ErrInvalidLog, len(topics))
	}
	if topics[0] != TradeTopic {
		return model.TradeEvent{}, fmt.Errorf("%w: unexpected topic %s", ErrInvalidLog, topics[0].Hex())
	}

	var out tradeData
	if err := parsedABI.UnpackIntoInterface(&out, tradeEventName, data); err != nil {
		return model.TradeEvent{}, fmt.Errorf("%w: %v", ErrInvalidLog, err)
	}

	return model.TradeEvent{
		MarketID: new(big.Int).SetBytes(topics[1].Bytes()),
		Actor:    common.BytesToAddress(topics[2].Bytes()),
		Amount:   out.Amount,
		IsBuy:    out.IsBuy,
		Price:    out.Price,
		Fee:      out.Fees,
	}, nil
}

// EncodeTradeLog builds the topics and data of a Trade log. It is the inverse of
// DecodeTradeLog and is used by fixtures and local tooling.
func EncodeTradeLog(ev model.TradeEvent) ([]common.Hash, []byte, error) {
	event := parsedABI.Events[tradeEventName]
	data, err := event.Inputs.NonIndexed().Pack(ev.Amount, ev.IsBuy, ev.Price, ev.Fee)
	if err != nil {
		return nil, nil, err
	}
	topics := []common.Hash{
		TradeTopic,
		MarketTopic(ev.MarketID),
		common.BytesToHash(ev.Actor.Bytes()),
	}
	return topics, data, nil
}

// DecodeTokenInfo decodes the packed (name, symbol, uri) metadata of legacy markets.
func DecodeTokenInfo(blob []byte) (name, symbol, uri string, err error) {
	if len(blob) == 0 {
		return "", "", "", fmt.Errorf("%w: empty blob", ErrInvalidTokenInfo)
	}

	values, err := tokenInfoArgs.Unpack(blob)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %v", ErrInvalidTokenInfo, err)
	}
	if len(values) != 3 {
		return "", "", "", fmt.Errorf("%w: expected 3 values, got %d", ErrInvalidTokenInfo, len(values))
	}

	fields := make([]string, 3)
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			return "", "", "", fmt.Errorf("%w: field %d is %T", ErrInvalidTokenInfo, i, v)
		}
		fields[i] = s
	}

	return fields[0], fields[1], fields[2], nil
}

// EncodeTokenInfo packs (name, symbol, uri) the way the launchpad contract stores it.
func EncodeTokenInfo(name, symbol, uri string) ([]byte, error) {
	return tokenInfoArgs.Pack(name, symbol, uri)
}
