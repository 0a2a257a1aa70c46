package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/social-scheduler/backend/internal/models"
)

// Stores aggregates one record store per entity type.
type Stores struct {
	Campaigns     RecordStore[models.Campaign]
	Posts         RecordStore[models.Post]
	Attempts      RecordStore[models.PostAttempt]
	Rules         RecordStore[models.ApprovalRule]
	Decisions     RecordStore[models.DecisionRequest]
	DecisionAudit RecordStore[models.DecisionAudit]
	RateLimit     RecordStore[models.RateLimitEvent]
	ConfirmTokens RecordStore[models.ConfirmationToken]
	Health        RecordStore[models.HealthCheck]
	Overrides     RecordStore[models.ManualOverrideAudit]
	Controls      RecordStore[models.SystemControl]
	Events        RecordStore[models.Event]
}

// NewJSONLStores builds the default append-only flat-file backend under dataDir.
func NewJSONLStores(dataDir string) (*Stores, error) {
	s := &Stores{}
	var err error
	if s.Campaigns, err = NewJSONLStore(filepath.Join(dataDir, "campaigns.jsonl"), func(c models.Campaign) string { return c.ID }); err != nil {
		return nil, err
	}
	if s.Posts, err = NewJSONLStore(filepath.Join(dataDir, "posts.jsonl"), func(p models.Post) string { return p.ID }); err != nil {
		return nil, err
	}
	if s.Attempts, err = NewJSONLStore(filepath.Join(dataDir, "post_attempts.jsonl"), func(a models.PostAttempt) string { return a.ID }); err != nil {
		return nil, err
	}
	if s.Rules, err = NewJSONLStore(filepath.Join(dataDir, "approval_rules.jsonl"), func(r models.ApprovalRule) string { return r.ID }); err != nil {
		return nil, err
	}
	if s.Decisions, err = NewJSONLStore(filepath.Join(dataDir, "decision_requests.jsonl"), func(d models.DecisionRequest) string { return d.ID }); err != nil {
		return nil, err
	}
	if s.DecisionAudit, err = NewJSONLStore(filepath.Join(dataDir, "decision_audit.jsonl"), func(a models.DecisionAudit) string { return a.ID }); err != nil {
		return nil, err
	}
	if s.RateLimit, err = NewJSONLStore(filepath.Join(dataDir, "rate_limit_events.jsonl"), func(e models.RateLimitEvent) string { return e.ID }); err != nil {
		return nil, err
	}
	if s.ConfirmTokens, err = NewJSONLStore(filepath.Join(dataDir, "confirmation_tokens.jsonl"), func(t models.ConfirmationToken) string { return t.ID }); err != nil {
		return nil, err
	}
	if s.Health, err = NewJSONLStore(filepath.Join(dataDir, "health_checks.jsonl"), func(h models.HealthCheck) string { return h.ID }); err != nil {
		return nil, err
	}
	if s.Overrides, err = NewJSONLStore(filepath.Join(dataDir, "manual_override_audit.jsonl"), func(o models.ManualOverrideAudit) string { return o.ID }); err != nil {
		return nil, err
	}
	if s.Controls, err = NewJSONLStore(filepath.Join(dataDir, "system_controls.jsonl"), func(c models.SystemControl) string { return c.Key }); err != nil {
		return nil, err
	}
	if s.Events, err = NewJSONLStore(filepath.Join(dataDir, "events.jsonl"), func(e models.Event) string { return e.ID }); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStores builds the embedded-engine backend over a shared table.
func NewPostgresStores(ctx context.Context, pool *pgxpool.Pool) (*Stores, error) {
	if err := EnsureSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &Stores{
		Campaigns:     NewPostgresStore(pool, "campaigns", func(c models.Campaign) string { return c.ID }),
		Posts:         NewPostgresStore(pool, "posts", func(p models.Post) string { return p.ID }),
		Attempts:      NewPostgresStore(pool, "post_attempts", func(a models.PostAttempt) string { return a.ID }),
		Rules:         NewPostgresStore(pool, "approval_rules", func(r models.ApprovalRule) string { return r.ID }),
		Decisions:     NewPostgresStore(pool, "decision_requests", func(d models.DecisionRequest) string { return d.ID }),
		DecisionAudit: NewPostgresStore(pool, "decision_audit", func(a models.DecisionAudit) string { return a.ID }),
		RateLimit:     NewPostgresStore(pool, "rate_limit_events", func(e models.RateLimitEvent) string { return e.ID }),
		ConfirmTokens: NewPostgresStore(pool, "confirmation_tokens", func(t models.ConfirmationToken) string { return t.ID }),
		Health:        NewPostgresStore(pool, "health_checks", func(h models.HealthCheck) string { return h.ID }),
		Overrides:     NewPostgresStore(pool, "manual_override_audit", func(o models.ManualOverrideAudit) string { return o.ID }),
		Controls:      NewPostgresStore(pool, "system_controls", func(c models.SystemControl) string { return c.Key }),
		Events:        NewPostgresStore(pool, "events", func(e models.Event) string { return e.ID }),
	}, nil
}

func (s *Stores) byName() map[string]func(ctx context.Context) (int64, error) {
	return map[string]func(ctx context.Context) (int64, error){
		"campaigns":        s.Campaigns.Compact,
		"posts":            s.Posts.Compact,
		"attempts":         s.Attempts.Compact,
		"rules":            s.Rules.Compact,
		"decisions":        s.Decisions.Compact,
		"decision_audit":   s.DecisionAudit.Compact,
		"rate_limit":       s.RateLimit.Compact,
		"confirm_tokens":   s.ConfirmTokens.Compact,
		"health":           s.Health.Compact,
		"manual_overrides": s.Overrides.Compact,
		"controls":         s.Controls.Compact,
		"events":           s.Events.Compact,
	}
}

// CompactData compacts one named store, or every store when name is "all".
// Returns bytes reclaimed per store.
func (s *Stores) CompactData(ctx context.Context, name string) (map[string]int64, error) {
	targets := s.byName()
	if name == "all" {
		out := make(map[string]int64, len(targets))
		for n, compact := range targets {
			reclaimed, err := compact(ctx)
			if err != nil {
				return nil, fmt.Errorf("compact %s: %w", n, err)
			}
			out[n] = reclaimed
		}
		return out, nil
	}
	compact, ok := targets[name]
	if !ok {
		names := make([]string, 0, len(targets))
		for n := range targets {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: unknown store %q, allowed: %s, all",
			models.ErrValidation, name, strings.Join(names, ", "))
	}
	reclaimed, err := compact(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int64{name: reclaimed}, nil
}
