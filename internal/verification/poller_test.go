package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/pkg/config"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
)

func setupVerificationTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`
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
);`).Error)
	return db
}

type fakeProfileScraper struct {
	bio          string
	status       enums.SnapshotStatus
	triggerErr   error
	fetchErr     error
	triggerCalls int
	statusCalls  int
}

func (f *fakeProfileScraper) TriggerProfile(ctx context.Context, platform enums.Platform, profileURL string) (*models.JobMetadata, error) {
	f.triggerCalls++
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return &models.JobMetadata{ID: uuid.New(), SnapshotID: "s_profile_1", Platform: platform}, nil
}

func (f *fakeProfileScraper) FetchStatus(ctx context.Context, handle string) (enums.SnapshotStatus, error) {
	f.statusCalls++
	if f.status == "" {
		return enums.SnapshotStatusReady, nil
	}
	return f.status, nil
}

func (f *fakeProfileScraper) FetchData(ctx context.Context, handle string) ([]json.RawMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	record, _ := json.Marshal(map[string]any{"biography": f.bio})
	return []json.RawMessage{record}, nil
}

type fakeJobCleaner struct {
	deleted []string
}

func (f *fakeJobCleaner) Delete(ctx context.Context, snapshotID string) error {
	f.deleted = append(f.deleted, snapshotID)
	return nil
}

type fakeResolver struct {
	resolved []uuid.UUID
	err      error
}

func (f *fakeResolver) ResolveOnVerification(ctx context.Context, accountID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.resolved = append(f.resolved, accountID)
	return nil
}

type pollerHarness struct {
	db       *gorm.DB
	repo     *Repository
	scraper  *fakeProfileScraper
	jobs     *fakeJobCleaner
	resolver *fakeResolver
	poller   *Poller
}

func newPollerHarness(t *testing.T) *pollerHarness {
	t.Helper()

	db := setupVerificationTestDB(t)
	repo := NewRepository(db)
	scraper := &fakeProfileScraper{}
	jobs := &fakeJobCleaner{}
	resolver := &fakeResolver{}

	cfg := config.VerificationConfig{
		PollInterval: time.Millisecond,
		PollMaxWait:  20 * time.Millisecond,
		MaxAttempts:  3,
	}
	poller, err := NewPoller(repo, scraper, jobs, resolver, cfg, nil, nil)
	require.NoError(t, err)

	return &pollerHarness{db: db, repo: repo, scraper: scraper, jobs: jobs, resolver: resolver, poller: poller}
}

func seedAccount(t *testing.T, db *gorm.DB, code string, status enums.VerificationStatus, attempts int) *models.SocialAccount {
	t.Helper()
	account := &models.SocialAccount{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Platform:         enums.PlatformTikTok,
		Handle:           "maker",
		ProfileURL:       "https://www.tiktok.com/@maker",
		VerificationCode: code,
		Status:           status,
		AttemptCount:     attempts,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func TestVerifyMarksAccountVerifiedAndResolvesClaims(t *testing.T) {
	h := newPollerHarness(t)
	account := seedAccount(t, h.db, "RR-4921", enums.VerificationStatusPending, 1)
	h.scraper.bio = "video maker | code rr-4921 | collabs open"

	require.NoError(t, h.poller.Verify(context.Background(), account.ID))

	var stored models.SocialAccount
	require.NoError(t, h.db.First(&stored, "id = ?", account.ID).Error)
	assert.Equal(t, enums.VerificationStatusVerified, stored.Status)
	assert.NotNil(t, stored.VerifiedAt)
	assert.Zero(t, stored.AttemptCount)
	require.NotNil(t, stored.LastSnapshotID)
	assert.Equal(t, "s_profile_1", *stored.LastSnapshotID)

	require.Len(t, h.resolver.resolved, 1)
	assert.Equal(t, account.ID, h.resolver.resolved[0])
	assert.Equal(t, []string{"s_profile_1"}, h.jobs.deleted)
}

func TestVerifyCodeMissingIncrementsAttempts(t *testing.T) {
	h := newPollerHarness(t)
	account := seedAccount(t, h.db, "RR-4921", enums.VerificationStatusPending, 0)
	h.scraper.bio = "just my regular bio"

	require.NoError(t, h.poller.Verify(context.Background(), account.ID))

	var stored models.SocialAccount
	require.NoError(t, h.db.First(&stored, "id = ?", account.ID).Error)
	assert.Equal(t, enums.VerificationStatusPending, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Empty(t, h.resolver.resolved)
}

func TestVerifyFailsAccountAtAttemptCeiling(t *testing.T) {
	h := newPollerHarness(t)
	account := seedAccount(t, h.db, "RR-4921", enums.VerificationStatusPending, 2)
	h.scraper.bio = "still no code"

	require.NoError(t, h.poller.Verify(context.Background(), account.ID))

	var stored models.SocialAccount
	require.NoError(t, h.db.First(&stored, "id = ?", account.ID).Error)
	assert.Equal(t, enums.VerificationStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.AttemptCount)
}

func TestVerifySkipsAlreadyVerifiedAccount(t *testing.T) {
	h := newPollerHarness(t)
	account := seedAccount(t, h.db, "RR-4921", enums.VerificationStatusVerified, 0)

	require.NoError(t, h.poller.Verify(context.Background(), account.ID))
	assert.Zero(t, h.scraper.triggerCalls)
}

func TestVerifyUnknownAccountErrors(t *testing.T) {
	h := newPollerHarness(t)
	require.Error(t, h.poller.Verify(context.Background(), uuid.New()))
}

func TestVerifyTriggerFailureLeavesAttemptsUntouched(t *testing.T) {
	h := newPollerHarness(t)
	account := seedAccount(t, h.db, "RR-4921", enums.VerificationStatusPending, 1)
	h.scraper.triggerErr = assert.AnError

	require.Error(t, h.poller.Verify(context.Background(), account.ID))

	var stored models.SocialAccount
	require.NoError(t, h.db.First(&stored, "id = ?", account.ID).Error)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Equal(t, enums.VerificationStatusPending, stored.Status)
}

func TestVerifyToleratesPollTimeout(t *testing.T) {
	h := newPollerHarness(t)
	account := seedAccount(t, h.db, "RR-4921", enums.VerificationStatusPending, 0)
	h.scraper.status = enums.SnapshotStatusRunning
	h.scraper.bio = "profile says rr-4921"

	// The snapshot never reports ready; the poller fetches anyway after the
	// wall-clock ceiling.
	require.NoError(t, h.poller.Verify(context.Background(), account.ID))

	var stored models.SocialAccount
	require.NoError(t, h.db.First(&stored, "id = ?", account.ID).Error)
	assert.Equal(t, enums.VerificationStatusVerified, stored.Status)
}

func TestVerifyAbortsOnProviderFailure(t *testing.T) {
	h := newPollerHarness(t)
	account := seedAccount(t, h.db, "RR-4921", enums.VerificationStatusPending, 0)
	h.scraper.status = enums.SnapshotStatusFailed

	require.Error(t, h.poller.Verify(context.Background(), account.ID))
}

func TestExtractBioPriorityOrder(t *testing.T) {
	bio := ExtractBio(enums.PlatformTikTok, json.RawMessage(`{"signature": "fallback", "biography": "primary"}`))
	assert.Equal(t, "primary", bio)

	bio = ExtractBio(enums.PlatformTikTok, json.RawMessage(`{"signature": "fallback"}`))
	assert.Equal(t, "fallback", bio)

	bio = ExtractBio(enums.PlatformTikTok, json.RawMessage(`{"profile": {"biography": "nested"}}`))
	assert.Equal(t, "nested", bio)

	assert.Empty(t, ExtractBio(enums.PlatformTikTok, json.RawMessage(`{}`)))
	assert.Empty(t, ExtractBio(enums.PlatformTikTok, json.RawMessage(`not json`)))
}

func TestContainsCode(t *testing.T) {
	assert.True(t, ContainsCode("My bio RR-77ab done", "rr-77AB"))
	assert.False(t, ContainsCode("My bio", "rr-77ab"))
	assert.False(t, ContainsCode("anything", ""))
}
