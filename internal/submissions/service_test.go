package submissions

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/internal/ownership"
	"github.com/reelrally/reelrally-backend/pkg/config"
	dbpkg "github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	"github.com/reelrally/reelrally-backend/pkg/queue"
)

func setupSubmissionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A file-backed database (unlike shared-cache :memory:) lets the pooled
	// read connections used by CheckOwnership see committed rows while a
	// write transaction is open, matching read-committed Postgres semantics.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "submissions.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{`
CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  contest_id TEXT,
  user_id TEXT NOT NULL,
  url TEXT NOT NULL,
  platform TEXT NOT NULL,
  external_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'uploaded',
  ownership_status TEXT NOT NULL DEFAULT 'pending',
  hashtag_verdict TEXT,
  description_verdict TEXT,
  failure_reason TEXT,
  raw_asset_url TEXT,
  snapshot_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS ownership_claims (
  id TEXT PRIMARY KEY,
  platform TEXT NOT NULL,
  external_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  social_account_id TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  reason TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (platform, external_id, user_id)
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS ux_ownership_claims_claimed
  ON ownership_claims (platform, external_id) WHERE status = 'claimed';`, `
CREATE TABLE IF NOT EXISTS social_accounts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  platform TEXT NOT NULL,
  handle TEXT NOT NULL,
  profile_url TEXT NOT NULL,
  verification_code TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  last_snapshot_id TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  verified_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS ingest_events (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  snapshot_id TEXT,
  account_id TEXT,
  payload TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  published_at DATETIME,
  processed_at DATETIME,
  created_at DATETIME
);`}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fakeVideoScraper struct {
	handle     string
	err        error
	lastURLs   []string
	lastCalled enums.Platform
}

func (f *fakeVideoScraper) TriggerVideos(ctx context.Context, platform enums.Platform, urls []string) (*models.JobMetadata, error) {
	f.lastCalled = platform
	f.lastURLs = urls
	handle := f.handle
	if handle == "" {
		handle = "s_trigger_1"
	}
	return &models.JobMetadata{ID: uuid.New(), SnapshotID: handle, Platform: platform}, f.err
}

type fakeUploads struct {
	deleted []string
	err     error
}

func (f *fakeUploads) StoreRawUpload(ctx context.Context, platform enums.Platform, externalID, filename string, body io.Reader) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	object := "raw_upload/" + string(platform) + "/" + externalID + "/1"
	return object, "https://assets.reelrally.io/" + object, nil
}

func (f *fakeUploads) Delete(ctx context.Context, object string) error {
	f.deleted = append(f.deleted, object)
	return nil
}

type submissionsHarness struct {
	db      *gorm.DB
	scraper *fakeVideoScraper
	uploads *fakeUploads
	svc     Service
}

func newSubmissionsHarness(t *testing.T) *submissionsHarness {
	t.Helper()

	db := setupSubmissionsTestDB(t)
	client := dbpkg.NewFromConn(db)
	owners, err := ownership.NewService(client, ownership.NewRepository(db), nil)
	require.NoError(t, err)

	scraper := &fakeVideoScraper{}
	uploads := &fakeUploads{}
	svc, err := NewService(
		client,
		NewRepository(db),
		owners,
		scraper,
		queue.NewService(queue.NewRepository(db), nil),
		uploads,
		config.AssetsConfig{},
		nil,
	)
	require.NoError(t, err)

	return &submissionsHarness{db: db, scraper: scraper, uploads: uploads, svc: svc}
}

func seedRivalClaim(t *testing.T, db *gorm.DB, externalID string) uuid.UUID {
	t.Helper()
	rival := uuid.New()
	accountID := uuid.New()
	require.NoError(t, db.Exec(`
		INSERT INTO social_accounts (id, user_id, platform, handle, profile_url, verification_code, status, created_at, updated_at)
		VALUES (?, ?, 'tiktok', 'rival', 'https://www.tiktok.com/@rival', 'RR-1', 'verified', ?, ?)`,
		accountID.String(), rival.String(), time.Now().UTC(), time.Now().UTC()).Error)
	require.NoError(t, db.Exec(`
		INSERT INTO ownership_claims (id, platform, external_id, user_id, social_account_id, status, created_at, updated_at)
		VALUES (?, 'tiktok', ?, ?, ?, 'claimed', ?, ?)`,
		uuid.NewString(), externalID, rival.String(), accountID.String(), time.Now().UTC(), time.Now().UTC()).Error)
	return rival
}

func seedPendingVerification(t *testing.T, db *gorm.DB, userID uuid.UUID) {
	t.Helper()
	require.NoError(t, db.Exec(`
		INSERT INTO social_accounts (id, user_id, platform, handle, profile_url, verification_code, status, created_at, updated_at)
		VALUES (?, ?, 'tiktok', 'submitter', 'https://www.tiktok.com/@submitter', 'RR-2', 'pending', ?, ?)`,
		uuid.NewString(), userID.String(), time.Now().UTC(), time.Now().UTC()).Error)
}

func TestCreateSubmissionHappyPath(t *testing.T) {
	h := newSubmissionsHarness(t)
	userID := uuid.New()

	created, err := h.svc.Create(context.Background(), userID, CreateInput{
		URLs: []string{"https://www.tiktok.com/@maker/video/12345?is_copy_url=1"},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	var stored models.Submission
	require.NoError(t, h.db.First(&stored, "id = ?", created[0].ID).Error)
	assert.Equal(t, enums.SubmissionStatusUploaded, stored.Status)
	assert.Equal(t, enums.OwnershipStatusPending, stored.OwnershipStatus)
	assert.Equal(t, "12345", stored.ExternalID)
	assert.Equal(t, "https://www.tiktok.com/@maker/video/12345", stored.URL)
	require.NotNil(t, stored.SnapshotID)
	assert.Equal(t, "s_trigger_1", *stored.SnapshotID)

	var claimCount int64
	require.NoError(t, h.db.Model(&models.OwnershipClaim{}).
		Where("external_id = ? AND user_id = ?", "12345", userID).
		Count(&claimCount).Error)
	assert.Equal(t, int64(1), claimCount)

	var event models.IngestEvent
	require.NoError(t, h.db.First(&event).Error)
	assert.Equal(t, enums.IngestEventSnapshotReady, event.Kind)
	require.NotNil(t, event.SnapshotID)
	assert.Equal(t, "s_trigger_1", *event.SnapshotID)
}

func TestCreateRejectsMixedPlatformBatch(t *testing.T) {
	h := newSubmissionsHarness(t)

	_, err := h.svc.Create(context.Background(), uuid.New(), CreateInput{
		URLs: []string{
			"https://www.tiktok.com/@maker/video/12345",
			"https://www.instagram.com/reel/Cq1aBcD/",
		},
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, h.db.Model(&models.Submission{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateBatchSharesOneScrapeJob(t *testing.T) {
	h := newSubmissionsHarness(t)

	created, err := h.svc.Create(context.Background(), uuid.New(), CreateInput{
		URLs: []string{
			"https://www.tiktok.com/@maker/video/111",
			"https://www.tiktok.com/@maker/video/222",
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Len(t, h.scraper.lastURLs, 2)

	var eventCount int64
	require.NoError(t, h.db.Model(&models.IngestEvent{}).Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

func TestCreateContestedWhenSubmitterHasPendingVerification(t *testing.T) {
	h := newSubmissionsHarness(t)
	seedRivalClaim(t, h.db, "999")
	userID := uuid.New()
	seedPendingVerification(t, h.db, userID)

	created, err := h.svc.Create(context.Background(), userID, CreateInput{
		URLs: []string{"https://www.tiktok.com/@maker/video/999"},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OwnershipStatusContested, created[0].OwnershipStatus)

	var claim models.OwnershipClaim
	require.NoError(t, h.db.Where("user_id = ?", userID).First(&claim).Error)
	assert.Equal(t, enums.ClaimStatusContested, claim.Status)
}

func TestCreateFailedWhenSubmitterHasNoVerificationInFlight(t *testing.T) {
	h := newSubmissionsHarness(t)
	seedRivalClaim(t, h.db, "888")

	created, err := h.svc.Create(context.Background(), uuid.New(), CreateInput{
		URLs: []string{"https://www.tiktok.com/@maker/video/888"},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OwnershipStatusFailed, created[0].OwnershipStatus)
}

func TestCreateAttachesRawUploadToFirstSubmissionOnly(t *testing.T) {
	h := newSubmissionsHarness(t)

	created, err := h.svc.Create(context.Background(), uuid.New(), CreateInput{
		URLs: []string{
			"https://www.tiktok.com/@maker/video/111",
			"https://www.tiktok.com/@maker/video/222",
		},
		RawUpload: &RawUpload{Filename: "entry.mp4", Body: strings.NewReader("video-bytes")},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.NotNil(t, created[0].RawAssetURL)
	assert.Contains(t, *created[0].RawAssetURL, "raw_upload/tiktok/111")
	assert.Nil(t, created[1].RawAssetURL)
}

func TestCreateTriggerFailureKeepsSubmissionsAwaitingWebhook(t *testing.T) {
	h := newSubmissionsHarness(t)
	h.scraper.handle = "snap-placeholder"
	h.scraper.err = assert.AnError

	created, err := h.svc.Create(context.Background(), uuid.New(), CreateInput{
		URLs: []string{"https://www.tiktok.com/@maker/video/333"},
	})
	require.NoError(t, err)

	var stored models.Submission
	require.NoError(t, h.db.First(&stored, "id = ?", created[0].ID).Error)
	require.NotNil(t, stored.SnapshotID)
	assert.Equal(t, "snap-placeholder", *stored.SnapshotID)

	// No readiness event: nothing to poll until the webhook rekeys the job.
	var eventCount int64
	require.NoError(t, h.db.Model(&models.IngestEvent{}).Count(&eventCount).Error)
	assert.Zero(t, eventCount)
}

func TestCreateRawUploadRolledBackOnFailure(t *testing.T) {
	h := newSubmissionsHarness(t)

	// A canceled context fails the transaction after the upload succeeded.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Create(ctx, uuid.New(), CreateInput{
		URLs:      []string{"https://www.tiktok.com/@maker/video/444"},
		RawUpload: &RawUpload{Filename: "entry.mp4", Body: strings.NewReader("bytes")},
	})
	require.Error(t, err)
	assert.Len(t, h.uploads.deleted, 1)
}

func TestGetReturnsNotFoundForUnknownID(t *testing.T) {
	h := newSubmissionsHarness(t)
	_, err := h.svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestListByUserNewestFirst(t *testing.T) {
	h := newSubmissionsHarness(t)
	userID := uuid.New()

	_, err := h.svc.Create(context.Background(), userID, CreateInput{
		URLs: []string{"https://www.tiktok.com/@maker/video/551"},
	})
	require.NoError(t, err)
	_, err = h.svc.Create(context.Background(), userID, CreateInput{
		URLs: []string{"https://www.tiktok.com/@maker/video/552"},
	})
	require.NoError(t, err)

	listed, err := h.svc.ListByUser(context.Background(), userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
}
