package ingestion

import (
	"context"

	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/internal/eligibility"
)

// RulesProvider resolves the content requirements a submission is judged
// against. Contest storage lives outside this service, so callers plug in the
// lookup; StaticRulesProvider covers deployments with a single rule set.
type RulesProvider interface {
	RulesFor(ctx context.Context, contestID *uuid.UUID) (eligibility.Rules, error)
}

// StaticRulesProvider returns the same rules for every submission.
type StaticRulesProvider struct {
	Rules eligibility.Rules
}

func (p StaticRulesProvider) RulesFor(ctx context.Context, contestID *uuid.UUID) (eligibility.Rules, error) {
	return p.Rules, nil
}
