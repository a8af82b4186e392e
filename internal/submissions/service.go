package submissions

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/internal/normalizer"
	"github.com/reelrally/reelrally-backend/internal/ownership"
	"github.com/reelrally/reelrally-backend/pkg/config"
	dbpkg "github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/queue"
)

// RawUpload is the user's own copy of the video, stored before the scrape so
// the contest keeps a copy even if the post is later deleted.
type RawUpload struct {
	Filename string
	Body     io.Reader
}

// CreateInput is one submission request: a batch of same-platform URLs plus
// an optional raw upload for the first of them.
type CreateInput struct {
	URLs      []string
	ContestID *uuid.UUID
	RawUpload *RawUpload
}

type videoScraper interface {
	TriggerVideos(ctx context.Context, platform enums.Platform, urls []string) (*models.JobMetadata, error)
}

type rawUploadStore interface {
	StoreRawUpload(ctx context.Context, platform enums.Platform, externalID, filename string, body io.Reader) (object string, publicURL string, err error)
	Delete(ctx context.Context, object string) error
}

// Service accepts submissions and kicks off their ingestion.
type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateInput) ([]models.Submission, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Submission, error)
}

type service struct {
	client  *dbpkg.Client
	repo    *Repository
	owners  ownership.Service
	scraper videoScraper
	events  *queue.Service
	uploads rawUploadStore
	cfg     config.AssetsConfig
	logg    *logger.Logger
}

func NewService(
	client *dbpkg.Client,
	repo *Repository,
	owners ownership.Service,
	scraper videoScraper,
	events *queue.Service,
	uploads rawUploadStore,
	cfg config.AssetsConfig,
	logg *logger.Logger,
) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("submission repository required")
	}
	if owners == nil {
		return nil, fmt.Errorf("ownership service required")
	}
	if scraper == nil {
		return nil, fmt.Errorf("scrape client required")
	}
	if events == nil {
		return nil, fmt.Errorf("ingest queue required")
	}
	return &service{
		client:  client,
		repo:    repo,
		owners:  owners,
		scraper: scraper,
		events:  events,
		uploads: uploads,
		cfg:     cfg,
		logg:    logg,
	}, nil
}

// Create validates and stores the submissions, then triggers the scrape. The
// scrape trigger and event enqueue are best-effort: the rows exist either
// way, and a webhook or operator retrigger can still resolve them.
func (s *service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) ([]models.Submission, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	normalized, err := normalizer.ValidateBatch(input.URLs)
	if err != nil {
		return nil, err
	}
	platform := normalized[0].Platform
	ctx = s.logg.WithUserID(ctx, userID.String())

	rawObject, rawURL, err := s.storeRawUpload(ctx, platform, normalized[0].ExternalID, input.RawUpload)
	if err != nil {
		return nil, err
	}

	var created []models.Submission
	txErr := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		for i, n := range normalized {
			submission, err := s.createOne(ctx, tx, userID, input.ContestID, n, rawURLForIndex(rawURL, i))
			if err != nil {
				return err
			}
			created = append(created, *submission)
		}
		return nil
	})
	if txErr != nil {
		// The upload has no owning row anymore; remove the object.
		if rawObject != "" && s.uploads != nil {
			if delErr := s.uploads.Delete(ctx, rawObject); delErr != nil {
				s.logg.Error(ctx, "rolling back raw upload object", delErr)
			}
		}
		return nil, txErr
	}

	s.startScrape(ctx, platform, normalized, created)
	return created, nil
}

func (s *service) storeRawUpload(ctx context.Context, platform enums.Platform, externalID string, upload *RawUpload) (object, publicURL string, err error) {
	if upload == nil {
		return "", "", nil
	}
	if s.uploads == nil {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "raw uploads are not enabled")
	}
	return s.uploads.StoreRawUpload(ctx, platform, externalID, upload.Filename, upload.Body)
}

func (s *service) createOne(ctx context.Context, tx *gorm.DB, userID uuid.UUID, contestID *uuid.UUID, n normalizer.NormalizedURL, rawURL string) (*models.Submission, error) {
	key := ownership.SubjectKey{Platform: n.Platform, ExternalID: n.ExternalID}

	ownershipStatus, err := s.owners.CheckOwnership(ctx, key, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.owners.UpsertClaim(ctx, tx, ownership.UpsertClaimInput{
		Key:    key,
		UserID: userID,
		Status: claimStatusFor(ownershipStatus),
	}); err != nil {
		return nil, err
	}

	submission := &models.Submission{
		ContestID:       contestID,
		UserID:          userID,
		URL:             n.CanonicalURL,
		Platform:        n.Platform,
		ExternalID:      n.ExternalID,
		Status:          enums.SubmissionStatusUploaded,
		OwnershipStatus: ownershipStatus,
	}
	if rawURL != "" {
		submission.RawAssetURL = &rawURL
	}
	if err := s.repo.Insert(ctx, tx, submission); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating submission")
	}
	return submission, nil
}

// startScrape triggers the scrape job, attaches the handle and enqueues the
// readiness poll. Failures are logged, not returned: the webhook path can
// still resolve the submissions via the placeholder handle.
func (s *service) startScrape(ctx context.Context, platform enums.Platform, normalized []normalizer.NormalizedURL, created []models.Submission) {
	urls := make([]string, 0, len(normalized))
	for _, n := range normalized {
		urls = append(urls, n.CanonicalURL)
	}
	ids := make([]uuid.UUID, 0, len(created))
	for _, sub := range created {
		ids = append(ids, sub.ID)
	}

	job, triggerErr := s.scraper.TriggerVideos(ctx, platform, urls)
	if job == nil {
		s.logg.Error(ctx, "scrape trigger produced no job", triggerErr)
		return
	}
	ctx = s.logg.WithSnapshotID(ctx, job.SnapshotID)

	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.AttachSnapshot(ctx, tx, ids, job.SnapshotID); err != nil {
			return err
		}
		if triggerErr != nil {
			// Provider rejected the trigger; the placeholder handle stays on
			// the rows so a webhook rekey can still find them. Nothing to
			// poll yet.
			return nil
		}
		handle := job.SnapshotID
		_, err := s.events.Enqueue(ctx, tx, queue.Event{
			Kind:       enums.IngestEventSnapshotReady,
			SnapshotID: &handle,
		})
		return err
	})
	if err != nil {
		s.logg.Error(ctx, "attaching scrape job to submissions", err)
	}
	if triggerErr != nil {
		s.logg.Error(ctx, "scrape trigger failed, submissions await webhook", triggerErr)
	}
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	submission, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading submission")
	}
	if submission == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
	}
	return submission, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Submission, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func claimStatusFor(status enums.OwnershipStatus) enums.ClaimStatus {
	switch status {
	case enums.OwnershipStatusVerified:
		return enums.ClaimStatusClaimed
	case enums.OwnershipStatusContested:
		return enums.ClaimStatusContested
	case enums.OwnershipStatusFailed:
		return enums.ClaimStatusFailed
	default:
		return enums.ClaimStatusPending
	}
}

// rawURLForIndex attaches the uploaded file to the first submission only.
func rawURLForIndex(rawURL string, index int) string {
	if index == 0 {
		return rawURL
	}
	return ""
}
