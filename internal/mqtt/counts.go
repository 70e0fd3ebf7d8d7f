package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/vidchat/internal/events"
)

// DailyCounts tallies pipeline outcomes for the current local day. It
// resets at local midnight and is safe for concurrent use.
type DailyCounts struct {
	mu        sync.Mutex
	replies   int64
	fallbacks int64
	rejected  int64
	summaries int64
	outcomes  map[string]int64
	day       int
	loc       *time.Location
	now       func() time.Time
}

// CountsSnapshot is a point-in-time copy of [DailyCounts].
type CountsSnapshot struct {
	Replies   int64            `json:"replies"`
	Fallbacks int64            `json:"fallbacks"`
	Rejected  int64            `json:"quota_rejections"`
	Summaries int64            `json:"summaries"`
	Outcomes  map[string]int64 `json:"outcomes,omitempty"`
}

// NewDailyCounts creates a tally using loc for midnight detection. If
// loc is nil, [time.Local] is used.
func NewDailyCounts(loc *time.Location) *DailyCounts {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyCounts{loc: loc, now: time.Now, outcomes: make(map[string]int64)}
	d.day = d.dayKey()
	return d
}

func (d *DailyCounts) dayKey() int {
	t := d.now().In(d.loc)
	return t.Year()*1000 + t.YearDay()
}

// Observe folds one event into the tally.
func (d *DailyCounts) Observe(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	switch e.Kind {
	case events.KindReply:
		d.replies++
		if outcome, ok := e.Data["outcome"].(string); ok {
			d.outcomes[outcome]++
		}
	case events.KindFallback:
		d.fallbacks++
	case events.KindQuotaExceeded:
		d.rejected++
	case events.KindSummarized:
		d.summaries++
	}
}

// Snapshot returns the current totals after checking for rollover.
func (d *DailyCounts) Snapshot() CountsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	s := CountsSnapshot{
		Replies:   d.replies,
		Fallbacks: d.fallbacks,
		Rejected:  d.rejected,
		Summaries: d.summaries,
		Outcomes:  make(map[string]int64, len(d.outcomes)),
	}
	for k, v := range d.outcomes {
		s.Outcomes[k] = v
	}
	return s
}

// maybeReset zeroes the tally when the local day changed. Must be called
// with d.mu held.
func (d *DailyCounts) maybeReset() {
	today := d.dayKey()
	if today == d.day {
		return
	}
	d.replies, d.fallbacks, d.rejected, d.summaries = 0, 0, 0, 0
	d.outcomes = make(map[string]int64)
	d.day = today
}
