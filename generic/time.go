package generic

import (
	"time"
)

// =============================================================================
// EPOCH MILLISECONDS - All persisted timestamps
// =============================================================================

const (
	MinuteMs int64 = 60 * 1000
	HourMs   int64 = 60 * MinuteMs
	DayMs    int64 = 24 * HourMs
	WeekMs   int64 = 7 * DayMs

	// SlotDuration is the fixed teaching-slot granularity.
	SlotDuration = 30 * time.Minute
	SlotMs       = 30 * MinuteMs
)

// LocalZone is the platform timezone (UTC+7). Day boundaries for memo
// deadlines, best-memo quotas and overtime checks are taken in this zone.
var LocalZone = time.FixedZone("ICT", 7*60*60)

// Ms converts a time to epoch milliseconds.
func Ms(t time.Time) int64 { return t.UnixMilli() }

// FromMs converts epoch milliseconds to a UTC time.
func FromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// =============================================================================
// CLOCK
// =============================================================================

// Clock abstracts wall-clock time so jobs and guards are testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Tests move it with Set/Advance.
type FixedClock struct {
	T time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{T: t} }

func (c *FixedClock) Now() time.Time { return c.T }
func (c *FixedClock) Set(t time.Time) { c.T = t }
func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }
func (c *FixedClock) NowMs() int64 { return Ms(c.T) }

// =============================================================================
// DAY ARITHMETIC (LocalZone)
// =============================================================================

// StartOfDay truncates ms to local midnight and returns epoch ms.
func StartOfDay(ms int64, loc *time.Location) int64 {
	t := time.UnixMilli(ms).In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).UnixMilli()
}

// DayKey is the local calendar date of ms, formatted as 2006-01-02.
func DayKey(ms int64, loc *time.Location) string {
	return time.UnixMilli(ms).In(loc).Format("2006-01-02")
}

// StartOfWeek returns local Monday 00:00 of the week containing ms.
func StartOfWeek(ms int64, loc *time.Location) int64 {
	t := time.UnixMilli(ms).In(loc)
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, loc).UnixMilli()
}

// WeekOffset is the number of ms elapsed since local Monday 00:00.
// Regular (weekly recurring) slots are registered with this value.
func WeekOffset(ms int64, loc *time.Location) int64 {
	return ms - StartOfWeek(ms, loc)
}

// IsSlotAligned reports whether ms falls on a 30-minute boundary.
func IsSlotAligned(ms int64) bool {
	return ms%SlotMs == 0
}
