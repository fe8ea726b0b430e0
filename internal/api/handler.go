package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/onbonsai/launchpad-sub000/internal/candles"
	"github.com/onbonsai/launchpad-sub000/internal/datafeed"
	"github.com/onbonsai/launchpad-sub000/internal/symbols"
)

const (
	statusOK     = "ok"
	statusNoData = "no_data"
	statusError  = "error"
)

// searchResult is one entry of the /search response.
type searchResult struct {
	Symbol      string `json:"symbol"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	Ticker      string `json:"ticker"`
	Type        string `json:"type"`
}

// historyResponse is the UDF /history payload. Times are Unix milliseconds.
type historyResponse struct {
	Status string    `json:"s"`
	Error  string    `json:"errmsg,omitempty"`
	Time   []int64   `json:"t,omitempty"`
	Open   []float64 `json:"o,omitempty"`
	High   []float64 `json:"h,omitempty"`
	Low    []float64 `json:"l,omitempty"`
	Close  []float64 `json:"c,omitempty"`
}

// Config handles GET /config requests.
func (h *Handler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, h.feed.OnReady())
}

// Time handles GET /time requests with the server time in Unix seconds.
func (h *Handler) Time(c *gin.Context) {
	c.String(http.StatusOK, strconv.FormatInt(h.now().Unix(), 10))
}

// Search handles GET /search requests.
func (h *Handler) Search(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		h.handleError(c, err, http.StatusBadRequest, err.Error())
		return
	}

	found, err := h.feed.SearchSymbols(ctx, c.Query("query"), c.Query("exchange"), c.Query("type"))
	if err != nil {
		h.handleError(c, err, http.StatusBadGateway, "symbol search failed")
		return
	}

	if len(found) > limit {
		found = found[:limit]
	}
	results := make([]searchResult, len(found))
	for i, s := range found {
		results[i] = searchResult{
			Symbol:      s.Ticker,
			FullName:    s.FullName,
			Description: s.Description,
			Exchange:    s.Exchange,
			Ticker:      s.FullName,
			Type:        s.Kind,
		}
	}

	c.JSON(http.StatusOK, results)
}

// Symbols handles GET /symbols requests.
func (h *Handler) Symbols(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	name := strings.TrimSpace(c.Query("symbol"))
	if name == "" {
		h.handleError(c, errors.New("symbol parameter is required"), http.StatusBadRequest, "symbol parameter is required")
		return
	}

	info, err := h.feed.ResolveSymbol(ctx, name)
	if errors.Is(err, symbols.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"s": statusError, "errmsg": "unknown_symbol"})
		return
	}
	if err != nil {
		h.handleError(c, err, http.StatusBadGateway, "symbol resolution failed")
		return
	}

	c.JSON(http.StatusOK, info)
}

// History handles GET /history requests.
//
// A failed fetch is answered with no_data rather than an error status so the chart
// stops waiting for the range.
func (h *Handler) History(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	name := strings.TrimSpace(c.Query("symbol"))
	if name == "" {
		c.JSON(http.StatusBadRequest, historyResponse{Status: statusError, Error: "symbol parameter is required"})
		return
	}

	resolution, err := candles.ParseResolution(c.Query("resolution"))
	if err != nil {
		c.JSON(http.StatusBadRequest, historyResponse{Status: statusError, Error: err.Error()})
		return
	}

	params, err := parsePeriod(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, historyResponse{Status: statusError, Error: err.Error()})
		return
	}

	info, err := h.feed.ResolveSymbol(ctx, name)
	if errors.Is(err, symbols.ErrNotFound) {
		c.JSON(http.StatusNotFound, historyResponse{Status: statusError, Error: "unknown_symbol"})
		return
	}
	if err != nil {
		h.logError(c, err)
		c.JSON(http.StatusOK, historyResponse{Status: statusNoData})
		return
	}

	result, err := h.feed.GetBars(ctx, info, resolution, params)
	if err != nil {
		h.logError(c, err)
		c.JSON(http.StatusOK, historyResponse{Status: statusNoData})
		return
	}
	if result.NoData {
		c.JSON(http.StatusOK, historyResponse{Status: statusNoData})
		return
	}

	c.JSON(http.StatusOK, toHistoryResponse(result))
}

// HealthCheck handles GET /health requests.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"version":   ServiceVersion,
	})
}

func toHistoryResponse(result datafeed.HistoryResult) historyResponse {
	n := len(result.Bars)
	resp := historyResponse{
		Status: statusOK,
		Time:   make([]int64, n),
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  make([]float64, n),
	}
	for i, bar := range result.Bars {
		resp.Time[i] = bar.Time
		resp.Open[i] = bar.Open
		resp.High[i] = bar.High
		resp.Low[i] = bar.Low
		resp.Close[i] = bar.Close
	}
	return resp
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultSearchLimit, nil
	}
	limit, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.New("limit must be a valid number")
	}
	if limit <= 0 || limit > MaxSearchLimit {
		return 0, errors.New("limit must be between 1 and 100")
	}
	return limit, nil
}

func parsePeriod(c *gin.Context) (datafeed.PeriodParams, error) {
	from, err := strconv.ParseInt(c.Query("from"), 10, 64)
	if err != nil {
		return datafeed.PeriodParams{}, errors.New("from must be a unix timestamp")
	}
	to, err := strconv.ParseInt(c.Query("to"), 10, 64)
	if err != nil {
		return datafeed.PeriodParams{}, errors.New("to must be a unix timestamp")
	}

	params := datafeed.PeriodParams{From: from, To: to}
	if raw := c.Query("countback"); raw != "" {
		countBack, err := strconv.Atoi(raw)
		if err != nil || countBack < 0 {
			return datafeed.PeriodParams{}, errors.New("countback must be a non-negative number")
		}
		params.CountBack = countBack
	}
	params.FirstDataRequest = c.Query("firstDataRequest") == "true"

	return params, nil
}

// handleError logs err and sends statusCode with userMessage.
func (h *Handler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	h.logError(c, err)
	c.JSON(statusCode, gin.H{
		"s":          statusError,
		"errmsg":     userMessage,
		"request_id": c.GetString(RequestIDContextKey),
	})
}

func (h *Handler) logError(c *gin.Context, err error) {
	h.logger.Error().
		Err(err).
		Str("request_id", c.GetString(RequestIDContextKey)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("API error")
}
