package scrapejobs

import (
	"context"
	"fmt"

	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
)

// Resolver maps an inbound webhook payload to the local job that triggered
// it. Strategies run in confidence order and every match is tagged with the
// strategy that produced it, so downstream logic can tell a confident match
// from a heuristic guess.
type Resolver struct {
	repo        *Repository
	allowRecent bool
	logg        *logger.Logger
}

func NewResolver(repo *Repository, allowRecentFallback bool, logg *logger.Logger) (*Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("job metadata repository required")
	}
	return &Resolver{repo: repo, allowRecent: allowRecentFallback, logg: logg}, nil
}

// Match is a resolved lookup, tagged with how it was found.
type Match struct {
	Job      *models.JobMetadata
	Strategy enums.MatchStrategy
}

// Resolve tries, in order: the handle itself, any payload URL against
// recorded job URL sets (covers provider handle drift), and, only when the
// deployment opts in, the most recent unresolved job. The recency strategy
// is a last-resort debugging aid, not a correctness mechanism, and is logged
// loudly when used.
func (r *Resolver) Resolve(ctx context.Context, handle string, payloadURLs []string) (*Match, error) {
	if handle != "" {
		job, err := r.repo.FindBySnapshotID(ctx, handle)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up job by handle")
		}
		if job != nil {
			return &Match{Job: job, Strategy: enums.MatchStrategyHandle}, nil
		}
	}

	if len(payloadURLs) > 0 {
		job, err := r.matchByURL(ctx, payloadURLs)
		if err != nil {
			return nil, err
		}
		if job != nil {
			if r.logg != nil {
				logCtx := r.logg.WithFields(ctx, map[string]any{
					"handle":      handle,
					"snapshot_id": job.SnapshotID,
					"strategy":    enums.MatchStrategyURL,
				})
				r.logg.Info(logCtx, "job matched by payload url")
			}
			return &Match{Job: job, Strategy: enums.MatchStrategyURL}, nil
		}
	}

	if r.allowRecent {
		job, err := r.mostRecentUnresolved(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			if r.logg != nil {
				logCtx := r.logg.WithFields(ctx, map[string]any{
					"handle":      handle,
					"snapshot_id": job.SnapshotID,
					"strategy":    enums.MatchStrategyRecent,
				})
				r.logg.Warn(logCtx, "job matched by recency heuristic; result may belong to another batch")
			}
			return &Match{Job: job, Strategy: enums.MatchStrategyRecent}, nil
		}
	}

	return nil, pkgerrors.New(pkgerrors.CodeNotFound,
		fmt.Sprintf("no local job matches handle %q", handle))
}

func (r *Resolver) matchByURL(ctx context.Context, payloadURLs []string) (*models.JobMetadata, error) {
	jobs, err := r.repo.RecentUnresolved(ctx, lookupWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scanning jobs for url match")
	}

	wanted := make(map[string]struct{}, len(payloadURLs))
	for _, u := range payloadURLs {
		wanted[u] = struct{}{}
	}

	for i := range jobs {
		for _, u := range jobs[i].URLs {
			if _, ok := wanted[u]; ok {
				return &jobs[i], nil
			}
		}
	}
	return nil, nil
}

func (r *Resolver) mostRecentUnresolved(ctx context.Context) (*models.JobMetadata, error) {
	jobs, err := r.repo.RecentUnresolved(ctx, 1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading most recent job")
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}
