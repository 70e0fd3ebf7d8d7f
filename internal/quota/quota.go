// Package quota enforces the per-user daily allowance of billable jobs.
//
// The check is soft: usage is counted and compared, not reserved, so two
// concurrent requests from one user can both pass and land the user
// slightly over the limit.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/vidchat/internal/apperr"
	"github.com/nugget/vidchat/internal/usage"
)

// DefaultDailyLimit is the number of billable jobs a user may run per
// local day.
const DefaultDailyLimit = 40

// Store is the slice of the usage log the checker needs.
type Store interface {
	Count(ctx context.Context, userID string, kinds []string, since time.Time) (int, error)
	Record(ctx context.Context, rec usage.Record) error
}

// Checker counts a user's billable jobs since local midnight.
type Checker struct {
	store  Store
	limit  int
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewChecker returns a checker with the given daily limit (≤0 selects
// [DefaultDailyLimit]) and day boundary time zone (nil selects local time).
func NewChecker(store Store, limit int, loc *time.Location, logger *slog.Logger) *Checker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{store: store, limit: limit, loc: loc, logger: logger, now: time.Now}
}

// Limit returns the configured daily limit.
func (c *Checker) Limit() int { return c.limit }

// Today returns the bounds [start, end) of the current quota day.
func (c *Checker) Today() (start, end time.Time) {
	start = usage.StartOfDay(c.now(), c.loc)
	return start, start.AddDate(0, 0, 1)
}

// Used returns how many quota-bearing jobs the user has run today.
func (c *Checker) Used(ctx context.Context, userID string) (int, error) {
	since, _ := c.Today()
	n, err := c.store.Count(ctx, userID, usage.QuotaKinds, since)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// Check returns a QuotaExceeded error when the user has reached the
// daily limit.
func (c *Checker) Check(ctx context.Context, userID string) error {
	used, err := c.Used(ctx, userID)
	if err != nil {
		return err
	}
	if used >= c.limit {
		return apperr.Quota(used, c.limit)
	}
	return nil
}

// Record appends a usage record. Failures are logged and swallowed.
func (c *Checker) Record(ctx context.Context, rec usage.Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = c.now()
	}
	if err := c.store.Record(ctx, rec); err != nil {
		c.logger.Warn("usage record failed",
			"user", rec.UserID, "kind", rec.JobKind, "error", err)
	}
}
