package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nugget/vidchat/internal/quota"
	"github.com/nugget/vidchat/internal/usage"
)

// UsageReporter aggregates the usage log. [*usage.Store] satisfies it.
type UsageReporter interface {
	Summary(ctx context.Context, userID string, start, end time.Time) (*usage.Summary, error)
	SummaryByKind(ctx context.Context, userID string, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByProvider(ctx context.Context, userID string, start, end time.Time) (map[string]*usage.Summary, error)
}

// SetUsage enables the usage endpoint. The checker supplies the daily
// limit and day boundary; report supplies the token totals.
func (s *Server) SetUsage(checker *quota.Checker, report UsageReporter) {
	s.quota = checker
	s.usage = report
}

// usageResponse is the caller's consumption for the current quota day.
type usageResponse struct {
	UserID     string                    `json:"user_id"`
	Since      time.Time                 `json:"since"`
	Until      time.Time                 `json:"until"`
	Used       int                       `json:"used"`
	Limit      int                       `json:"limit"`
	Remaining  int                       `json:"remaining"`
	Totals     *usage.Summary            `json:"totals"`
	ByKind     map[string]*usage.Summary `json:"by_kind"`
	ByProvider map[string]*usage.Summary `json:"by_provider"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if s.quota == nil || s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage reporting is not enabled")
		return
	}

	ctx := r.Context()
	since, until := s.quota.Today()
	used, err := s.quota.Used(ctx, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := usageResponse{
		UserID:    user,
		Since:     since,
		Until:     until,
		Used:      used,
		Limit:     s.quota.Limit(),
		Remaining: max(s.quota.Limit()-used, 0),
	}
	if resp.Totals, err = s.usage.Summary(ctx, user, since, until); err != nil {
		s.writeError(w, err)
		return
	}
	if resp.ByKind, err = s.usage.SummaryByKind(ctx, user, since, until); err != nil {
		s.writeError(w, err)
		return
	}
	if resp.ByProvider, err = s.usage.SummaryByProvider(ctx, user, since, until); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}
