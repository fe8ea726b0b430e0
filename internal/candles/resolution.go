package candles

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedResolution is returned for any resolution outside the supported set.
var ErrUnsupportedResolution = errors.New("unsupported resolution")

// Resolution is the width of a candle bucket, named the way the charting front-end names it.
type Resolution string

const (
	Resolution1S     Resolution = "1S"
	Resolution1Min   Resolution = "1"
	Resolution5Min   Resolution = "5"
	Resolution15Min  Resolution = "15"
	Resolution30Min  Resolution = "30"
	Resolution1Hour  Resolution = "60"
	Resolution4Hour  Resolution = "240"
	Resolution1Day   Resolution = "1D"
	Resolution1Week  Resolution = "1W"
	Resolution1Month Resolution = "1M"
)

// bucketFunc maps a Unix millisecond timestamp to the start of its bucket.
type bucketFunc func(ms int64) int64

// bucketFuncs is the closed resolution table. A resolution is supported iff it has an entry.
var bucketFuncs = map[Resolution]bucketFunc{
	Resolution1S:     func(ms int64) int64 { return ms },
	Resolution1Min:   minutes(1),
	Resolution5Min:   minutes(5),
	Resolution15Min:  minutes(15),
	Resolution30Min:  minutes(30),
	Resolution1Hour:  minutes(60),
	Resolution4Hour:  minutes(240),
	Resolution1Day:   startOfDay,
	Resolution1Week:  startOfWeek,
	Resolution1Month: startOfMonth,
}

// supported keeps the advertised order stable; map iteration order is not.
var supported = []Resolution{
	Resolution1S,
	Resolution1Min,
	Resolution5Min,
	Resolution15Min,
	Resolution30Min,
	Resolution1Hour,
	Resolution4Hour,
	Resolution1Day,
	Resolution1Week,
	Resolution1Month,
}

// SupportedResolutions returns every supported resolution, finest first.
func SupportedResolutions() []Resolution {
	out := make([]Resolution, len(supported))
	copy(out, supported)
	return out
}

// ParseResolution validates s against the supported set.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedResolution, s)
	}
	return r, nil
}

// Valid reports whether r is one of the supported resolutions.
func (r Resolution) Valid() bool {
	_, ok := bucketFuncs[r]
	return ok
}

// SupportsLive reports whether live bars are pushed for r.
// Only the finest resolution ticks live; coarser charts refresh from history.
func (r Resolution) SupportsLive() bool {
	return r == Resolution1S
}

// BucketStart returns the start of the bucket containing ms.
func (r Resolution) BucketStart(ms int64) (int64, error) {
	fn, ok := bucketFuncs[r]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedResolution, string(r))
	}
	return fn(ms), nil
}

func minutes(n int64) bucketFunc {
	width := n * int64(time.Minute/time.Millisecond)
	return func(ms int64) int64 {
		return floorDiv(ms, width) * width
	}
}

// floorDiv rounds toward negative infinity so pre-epoch timestamps still bucket downwards.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func startOfDay(ms int64) int64 {
	t := time.UnixMilli(ms).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
}

// startOfWeek uses Sunday as the first day of the week.
func startOfWeek(ms int64) int64 {
	t := time.UnixMilli(ms).UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(day.Weekday())).UnixMilli()
}

func startOfMonth(ms int64) int64 {
	t := time.UnixMilli(ms).UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
}
