package candle

import (
	"fmt"
	"time"
)

// Resolution is a candle bucket size in minutes.
type Resolution int

const (
	Minute1  Resolution = 1
	Minute3  Resolution = 3
	Minute5  Resolution = 5
	Minute10 Resolution = 10
	Minute15 Resolution = 15
	Minute30 Resolution = 30
	Hour1    Resolution = 60
	Hour2    Resolution = 120
	Hour3    Resolution = 180
	Hour4    Resolution = 240
	Hour6    Resolution = 360
	Hour12   Resolution = 720
	Day1     Resolution = 1440
)

// Resolutions lists every supported resolution, shortest first.
var Resolutions = []Resolution{
	Minute1, Minute3, Minute5, Minute10, Minute15, Minute30,
	Hour1, Hour2, Hour3, Hour4, Hour6, Hour12, Day1,
}

func ParseResolution(minutes int) (Resolution, error) {
	for _, r := range Resolutions {
		if int(r) == minutes {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unsupported resolution %d minutes", minutes)
}

func (r Resolution) Minutes() int {
	return int(r)
}

func (r Resolution) Duration() time.Duration {
	return time.Duration(r) * time.Minute
}

func (r Resolution) String() string {
	if r >= Day1 && r%Day1 == 0 {
		return fmt.Sprintf("%dd", r/Day1)
	}
	if r >= Hour1 && r%Hour1 == 0 {
		return fmt.Sprintf("%dh", r/Hour1)
	}
	return fmt.Sprintf("%dm", int(r))
}

// Align floors a millisecond timestamp to the start of its bucket, anchored at the Unix epoch.
func (r Resolution) Align(timestampMs int64) int64 {
	bucket := int64(r) * 60 * 1000
	start := timestampMs / bucket * bucket
	// edge case: integer division truncates toward zero, so pre-epoch timestamps step back one bucket
	if timestampMs < 0 && start != timestampMs {
		start -= bucket
	}
	return start
}
