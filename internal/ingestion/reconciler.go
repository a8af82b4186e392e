package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/internal/eligibility"
	"github.com/reelrally/reelrally-backend/pkg/config"
	dbpkg "github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/metrics"
	redispkg "github.com/reelrally/reelrally-backend/pkg/redis"
)

const (
	idempotencyScope       = "reconcile"
	reasonOwnershipFailed  = "ownership verification failed"
	stageExtract           = "extract"
	stageReconcile         = "reconcile"
	skipReasonMalformed    = "malformed"
	skipReasonNoSubmission = "submission_unmatched"
)

type jobStore interface {
	FindBySnapshotID(ctx context.Context, snapshotID string) (*models.JobMetadata, error)
	Delete(ctx context.Context, snapshotID string) error
}

type assetStore interface {
	StoreRemoteImage(ctx context.Context, bucket enums.AssetBucket, remoteURL string) (string, error)
}

// Reconciler applies a scraped snapshot to the canonical catalog and advances
// the submissions waiting on it, at most once effectively per job handle.
type Reconciler struct {
	client *dbpkg.Client
	repo   *Repository
	jobs   jobStore
	assets assetStore
	judge  *eligibility.Judge
	rules  RulesProvider
	idem   redispkg.IdempotencyStore
	cfg    config.IngestionConfig
	flags  config.FeatureFlagsConfig
	mets   *metrics.PipelineMetrics
	logg   *logger.Logger
}

func NewReconciler(
	client *dbpkg.Client,
	repo *Repository,
	jobs jobStore,
	assets assetStore,
	rules RulesProvider,
	idem redispkg.IdempotencyStore,
	cfg config.IngestionConfig,
	flags config.FeatureFlagsConfig,
	mets *metrics.PipelineMetrics,
	logg *logger.Logger,
) (*Reconciler, error) {
	if client == nil {
		return nil, fmt.Errorf("db client is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if idem == nil {
		return nil, fmt.Errorf("idempotency store is required")
	}
	if rules == nil {
		rules = StaticRulesProvider{Rules: eligibility.Rules{
			RequiredHashtags:    cfg.RequiredHashtags,
			DescriptionTemplate: cfg.DescriptionTemplate,
		}}
	}
	return &Reconciler{
		client: client,
		repo:   repo,
		jobs:   jobs,
		assets: assets,
		judge:  eligibility.NewJudge(),
		rules:  rules,
		idem:   idem,
		cfg:    cfg,
		flags:  flags,
		mets:   mets,
		logg:   logg,
	}, nil
}

// Reconcile applies one snapshot's records. The redis guard makes replays
// no-ops; on failure the guard is released and the job row kept so the handle
// stays retryable.
func (r *Reconciler) Reconcile(ctx context.Context, handle string, records []json.RawMessage) (err error) {
	ctx = r.logg.WithSnapshotID(ctx, handle)

	key := r.idem.IdempotencyKey(idempotencyScope, handle)
	acquired, guardErr := r.idem.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), r.cfg.IdempotencyTTL)
	if guardErr != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, guardErr, "acquiring reconcile guard")
	}
	if !acquired {
		r.mets.IncBatch("duplicate")
		r.logg.Info(ctx, "snapshot already reconciled, skipping")
		return nil
	}
	defer func() {
		if err != nil {
			if delErr := r.idem.Del(ctx, key); delErr != nil {
				r.logg.Error(ctx, "releasing reconcile guard", delErr)
			}
		}
	}()

	platform, err := r.resolvePlatform(ctx, handle)
	if err != nil {
		return err
	}
	ctx = r.logg.WithPlatform(ctx, string(platform))

	started := time.Now()
	defer func() {
		r.mets.ObserveReconcile(string(platform), time.Since(started))
	}()

	// The stage markers commit outside the verdict transaction, so failed
	// batches leave their submissions parked mid-pipeline instead of back at
	// uploaded.
	if err := r.repo.AdvanceSnapshotSubmissions(ctx, nil, handle, enums.SubmissionStatusFetchingStats); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking submissions fetching stats")
	}

	scraped := r.extractAll(ctx, platform, records)
	if len(scraped) == 0 {
		err = pkgerrors.New(pkgerrors.CodeValidation, "no usable records in snapshot")
		r.recordFailure(ctx, handle, stageExtract, err, len(records))
		return err
	}

	assetURLs := r.storeImages(ctx, scraped)

	if err := r.repo.AdvanceSnapshotSubmissions(ctx, nil, handle, enums.SubmissionStatusCheckingHashtags); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking submissions checking hashtags")
	}

	scrapedAt := time.Now().UTC()
	txErr := r.client.WithTx(ctx, func(tx *gorm.DB) error {
		byExternalID := make(map[string]*ScrapedVideo, len(scraped))
		for i := range scraped {
			record := &scraped[i]
			if applyErr := r.applyRecord(ctx, tx, platform, record, assetURLs[i], scrapedAt); applyErr != nil {
				return applyErr
			}
			byExternalID[record.ExternalID] = record
		}
		return r.advanceSubmissions(ctx, tx, handle, byExternalID)
	})
	if txErr != nil {
		err = pkgerrors.Wrap(pkgerrors.CodeInternal, txErr, "reconciling snapshot")
		r.recordFailure(ctx, handle, stageReconcile, txErr, len(records))
		return err
	}

	if delErr := r.jobs.Delete(ctx, handle); delErr != nil {
		// Reconciliation committed; a surviving job row only costs a
		// duplicate-guard hit on replay.
		r.logg.Error(ctx, "deleting reconciled job metadata", delErr)
	}

	r.mets.IncBatch("success")
	r.logg.Info(ctx, "snapshot reconciled")
	return nil
}

// resolvePlatform reads the platform from the job row, falling back to the
// submissions waiting on the handle when the row is already gone.
func (r *Reconciler) resolvePlatform(ctx context.Context, handle string) (enums.Platform, error) {
	job, err := r.jobs.FindBySnapshotID(ctx, handle)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading job metadata")
	}
	if job != nil {
		return job.Platform, nil
	}

	submissions, err := r.repo.SubmissionsForSnapshot(ctx, nil, handle)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading submissions for handle")
	}
	if len(submissions) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "no job or submissions for snapshot handle")
	}
	return submissions[0].Platform, nil
}

func (r *Reconciler) extractAll(ctx context.Context, platform enums.Platform, records []json.RawMessage) []ScrapedVideo {
	scraped := make([]ScrapedVideo, 0, len(records))
	for _, raw := range records {
		video, err := ExtractVideo(platform, raw)
		if err != nil {
			r.mets.IncSkipped(skipReasonMalformed)
			r.logg.Warn(r.logg.WithField(ctx, "extract_error", err.Error()), "skipping malformed record")
			continue
		}
		scraped = append(scraped, video)
	}
	return scraped
}

// recordAssets are the stored asset URLs for one scraped record.
type recordAssets struct {
	cover      string
	avatar     string
	soundCover string
}

// storeImages copies remote imagery into our bucket. Failures leave the field
// empty and never abort the batch.
func (r *Reconciler) storeImages(ctx context.Context, scraped []ScrapedVideo) []recordAssets {
	out := make([]recordAssets, len(scraped))
	if r.assets == nil {
		return out
	}
	for i := range scraped {
		out[i].cover = r.storeImage(ctx, enums.AssetBucketVideoCover, scraped[i].CoverURL)
		out[i].avatar = r.storeImage(ctx, enums.AssetBucketCreatorAvatar, scraped[i].Creator.AvatarURL)
		out[i].soundCover = r.storeImage(ctx, enums.AssetBucketSoundCover, scraped[i].SoundCoverURL)
	}
	return out
}

func (r *Reconciler) storeImage(ctx context.Context, bucket enums.AssetBucket, remoteURL string) string {
	if remoteURL == "" {
		return ""
	}
	stored, err := r.assets.StoreRemoteImage(ctx, bucket, remoteURL)
	if err != nil {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"bucket":      string(bucket),
			"asset_error": err.Error(),
		}), "asset store failed, leaving field empty")
		return ""
	}
	return stored
}

func (r *Reconciler) applyRecord(ctx context.Context, tx *gorm.DB, platform enums.Platform, record *ScrapedVideo, assets recordAssets, scrapedAt time.Time) error {
	var creatorID *uuid.UUID
	if record.Creator.ExternalID != "" {
		creator := &models.Creator{
			Platform:      platform,
			ExternalID:    record.Creator.ExternalID,
			Handle:        record.Creator.Handle,
			DisplayName:   optional(record.Creator.DisplayName),
			AvatarURL:     optional(assets.avatar),
			Bio:           optional(record.Creator.Bio),
			FollowerCount: record.Creator.FollowerCount,
			ScrapedAt:     scrapedAt,
		}
		stored, err := r.repo.UpsertCreator(ctx, tx, creator, r.flags.OverwriteStaleMetric)
		if err != nil {
			return fmt.Errorf("upserting creator %s: %w", record.Creator.ExternalID, err)
		}
		creatorID = &stored.ID
	}

	video := &models.Video{
		Platform:      platform,
		ExternalID:    record.ExternalID,
		CreatorID:     creatorID,
		CanonicalURL:  record.URL,
		Caption:       optional(record.Caption),
		CoverURL:      optional(assets.cover),
		SoundTitle:    optional(record.SoundTitle),
		SoundCoverURL: optional(assets.soundCover),
		ViewCount:     record.ViewCount,
		LikeCount:     record.LikeCount,
		CommentCount:  record.CommentCount,
		ShareCount:    record.ShareCount,
		PostedAt:      record.PostedAt,
		ScrapedAt:     scrapedAt,
	}
	stored, err := r.repo.UpsertVideo(ctx, tx, video, r.flags.OverwriteStaleMetric)
	if err != nil {
		return fmt.Errorf("upserting video %s: %w", record.ExternalID, err)
	}

	tags := eligibility.ExtractHashtags(record.Caption, record.Hashtags)
	if err := r.repo.UpsertHashtags(ctx, tx, stored.ID, tags); err != nil {
		return fmt.Errorf("upserting hashtags for video %s: %w", record.ExternalID, err)
	}
	return nil
}

func (r *Reconciler) advanceSubmissions(ctx context.Context, tx *gorm.DB, handle string, byExternalID map[string]*ScrapedVideo) error {
	submissions, err := r.repo.SubmissionsForSnapshot(ctx, tx, handle)
	if err != nil {
		return fmt.Errorf("loading submissions for snapshot: %w", err)
	}

	for _, submission := range submissions {
		if submission.Status.IsTerminal() {
			continue
		}

		record, ok := byExternalID[submission.ExternalID]
		if !ok {
			r.mets.IncSkipped(skipReasonNoSubmission)
			r.logg.Warn(r.logg.WithSubmissionID(ctx, submission.ID.String()),
				"snapshot carries no record for submission, leaving state untouched")
			continue
		}

		rules, err := r.rules.RulesFor(ctx, submission.ContestID)
		if err != nil {
			return fmt.Errorf("resolving rules for submission %s: %w", submission.ID, err)
		}
		verdict := r.judge.Evaluate(rules, record.Caption, record.Hashtags)

		updates := map[string]any{
			"hashtag_verdict":     verdict.Hashtags,
			"description_verdict": verdict.Description,
		}
		next := finalStatus(submission.OwnershipStatus, verdict)
		if next == enums.SubmissionStatusFailed {
			updates["failure_reason"] = reasonOwnershipFailed
		}
		if submission.Status.CanAdvanceTo(next) {
			updates["status"] = next
		}

		if err := r.repo.UpdateSubmission(ctx, tx, submission.ID, updates); err != nil {
			return fmt.Errorf("advancing submission %s: %w", submission.ID, err)
		}
	}
	return nil
}

// finalStatus decides the post-check state. Failed ownership is terminal
// regardless of verdicts; contested ownership parks the submission for human
// review. Pending ownership does not block approval: a later verification
// pass restates the losers.
func finalStatus(ownership enums.OwnershipStatus, verdict eligibility.Verdict) enums.SubmissionStatus {
	switch ownership {
	case enums.OwnershipStatusFailed:
		return enums.SubmissionStatusFailed
	case enums.OwnershipStatusContested:
		return enums.SubmissionStatusWaitingReview
	}
	if verdict.Approved() {
		return enums.SubmissionStatusApproved
	}
	return enums.SubmissionStatusWaitingReview
}

func (r *Reconciler) recordFailure(ctx context.Context, handle, stage string, cause error, recordCount int) {
	r.mets.IncBatch("failure")
	details, _ := json.Marshal(map[string]any{"record_count": recordCount})
	logErr := r.repo.InsertLog(ctx, &models.IngestionLog{
		SnapshotID: handle,
		Stage:      stage,
		Error:      cause.Error(),
		Details:    details,
	})
	if logErr != nil {
		r.logg.Error(ctx, "writing ingestion log", logErr)
	}
	r.logg.Error(ctx, "snapshot reconciliation failed", cause)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
