package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/pkg/config"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/metrics"
	"github.com/reelrally/reelrally-backend/pkg/retry"
)

type profileScraper interface {
	TriggerProfile(ctx context.Context, platform enums.Platform, profileURL string) (*models.JobMetadata, error)
	FetchStatus(ctx context.Context, handle string) (enums.SnapshotStatus, error)
	FetchData(ctx context.Context, handle string) ([]json.RawMessage, error)
}

type jobCleaner interface {
	Delete(ctx context.Context, snapshotID string) error
}

type claimResolver interface {
	ResolveOnVerification(ctx context.Context, accountID uuid.UUID) error
}

// Poller verifies that a social account's bio carries the code we issued.
// One Verify call is one full attempt: trigger a profile scrape, wait for the
// snapshot, check the bio. Profile updates propagate slowly on the platforms,
// so both the polling bounds and the attempt budget are generous.
type Poller struct {
	repo     *Repository
	scraper  profileScraper
	jobs     jobCleaner
	resolver claimResolver
	cfg      config.VerificationConfig
	mets     *metrics.PipelineMetrics
	logg     *logger.Logger
}

func NewPoller(
	repo *Repository,
	scraper profileScraper,
	jobs jobCleaner,
	resolver claimResolver,
	cfg config.VerificationConfig,
	mets *metrics.PipelineMetrics,
	logg *logger.Logger,
) (*Poller, error) {
	if repo == nil {
		return nil, fmt.Errorf("account repository is required")
	}
	if scraper == nil {
		return nil, fmt.Errorf("profile scraper is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("claim resolver is required")
	}
	return &Poller{
		repo:     repo,
		scraper:  scraper,
		jobs:     jobs,
		resolver: resolver,
		cfg:      cfg,
		mets:     mets,
		logg:     logg,
	}, nil
}

// Verify runs one verification attempt for the account. Business outcomes
// (code present or absent) return nil; only infrastructure failures return an
// error so the queue retries them.
func (p *Poller) Verify(ctx context.Context, accountID uuid.UUID) error {
	ctx = p.logg.WithField(ctx, "account_id", accountID.String())

	account, err := p.repo.GetAccount(ctx, accountID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading social account")
	}
	if account == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "social account not found")
	}
	if account.Status == enums.VerificationStatusVerified {
		return nil
	}
	if account.Status == enums.VerificationStatusFailed {
		p.logg.Warn(ctx, "verification requested for failed account, ignoring")
		return nil
	}

	bio, handle, err := p.scrapeBio(ctx, account)
	if err != nil {
		return err
	}
	if handle != "" {
		// Remember the snapshot even when the code check fails, for support
		// and debugging.
		if updErr := p.repo.Update(ctx, account.ID, map[string]any{"last_snapshot_id": handle}); updErr != nil {
			p.logg.Error(ctx, "recording verification snapshot", updErr)
		}
	}

	if ContainsCode(bio, account.VerificationCode) {
		return p.markVerified(ctx, account)
	}
	return p.markAttemptFailed(ctx, account)
}

// scrapeBio triggers a profile scrape and waits for the snapshot. The poll
// ceiling is tolerated: a timed-out snapshot is fetched directly anyway.
func (p *Poller) scrapeBio(ctx context.Context, account *models.SocialAccount) (bio, handle string, err error) {
	job, err := p.scraper.TriggerProfile(ctx, account.Platform, account.ProfileURL)
	if err != nil {
		return "", "", err
	}
	handle = job.SnapshotID

	pollErr := retry.FrontLoaded(ctx, 1, p.cfg.PollInterval, p.cfg.PollInterval, p.cfg.PollMaxWait,
		func(ctx context.Context) (retry.PollResult, error) {
			status, statusErr := p.scraper.FetchStatus(ctx, handle)
			if statusErr != nil {
				return retry.PollContinue, nil
			}
			switch status {
			case enums.SnapshotStatusReady:
				return retry.PollDone, nil
			case enums.SnapshotStatusFailed:
				return retry.PollAbort, pkgerrors.New(pkgerrors.CodeDependency, "provider reported profile job failure")
			default:
				return retry.PollContinue, nil
			}
		})
	if pollErr != nil && pollErr != retry.ErrPollTimeout {
		return "", handle, pollErr
	}

	records, err := p.scraper.FetchData(ctx, handle)
	if err != nil {
		return "", handle, err
	}
	if p.jobs != nil {
		if delErr := p.jobs.Delete(ctx, handle); delErr != nil {
			p.logg.Error(ctx, "deleting profile job metadata", delErr)
		}
	}
	if len(records) == 0 {
		return "", handle, nil
	}
	return ExtractBio(account.Platform, records[0]), handle, nil
}

func (p *Poller) markVerified(ctx context.Context, account *models.SocialAccount) error {
	now := time.Now().UTC()
	err := p.repo.Update(ctx, account.ID, map[string]any{
		"status":        enums.VerificationStatusVerified,
		"verified_at":   now,
		"attempt_count": 0,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking account verified")
	}

	p.mets.IncVerification("verified")
	p.logg.Info(ctx, "social account verified")

	if err := p.resolver.ResolveOnVerification(ctx, account.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolving ownership claims after verification")
	}
	return nil
}

func (p *Poller) markAttemptFailed(ctx context.Context, account *models.SocialAccount) error {
	attempts := account.AttemptCount + 1
	updates := map[string]any{"attempt_count": attempts}
	outcome := "retry"
	if attempts >= p.cfg.MaxAttempts {
		updates["status"] = enums.VerificationStatusFailed
		outcome = "failed"
	}
	if err := p.repo.Update(ctx, account.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording verification attempt")
	}

	p.mets.IncVerification(outcome)
	p.logg.Warn(p.logg.WithField(ctx, "attempt_count", attempts), "verification code not found in bio")
	return nil
}
