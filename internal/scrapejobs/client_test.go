package scrapejobs

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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

func setupJobsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := []string{`
CREATE TABLE IF NOT EXISTS job_metadata (
  id TEXT PRIMARY KEY,
  snapshot_id TEXT NOT NULL UNIQUE,
  platform TEXT NOT NULL,
  dataset_id TEXT NOT NULL,
  urls TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'queued',
  created_at DATETIME,
  updated_at DATETIME
);`, `
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
);`}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func providerConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		BaseURL:          baseURL,
		Token:            "test-token",
		TikTokDataset:    "ds_tiktok",
		InstagramDataset: "ds_instagram",
		YouTubeDataset:   "ds_youtube",
		TikTokProfiles:   "ds_tiktok_profiles",
		RequestTimeout:   5 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   time.Millisecond,
		PollFastAttempts: 2,
		PollFastInterval: time.Millisecond,
		PollInterval:     2 * time.Millisecond,
		PollMaxWait:      50 * time.Millisecond,
		RatePerSecond:    1000,
		RateBurst:        1000,
	}
}

func newTestJobsClient(t *testing.T, db *gorm.DB, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(providerConfig(baseURL), NewRepository(db), nil, nil)
	require.NoError(t, err)
	return client
}

func TestTriggerWritesMetadataBeforeNetworkCallAndRekeys(t *testing.T) {
	db := setupJobsTestDB(t)

	var sawRowDuringCall atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.Equal(t, "ds_tiktok", r.URL.Query().Get("dataset_id"))

		// The placeholder row must already exist while the provider call is
		// in flight.
		var count int64
		_ = db.Model(&models.JobMetadata{}).Where("snapshot_id LIKE 'snap-%'").Count(&count)
		sawRowDuringCall.Store(count == 1)

		_, _ = w.Write([]byte(`{"snapshot_id":"s_provider_123"}`))
	}))
	defer srv.Close()

	client := newTestJobsClient(t, db, srv.URL)

	meta, err := client.TriggerVideos(context.Background(), enums.PlatformTikTok, []string{
		"https://www.tiktok.com/@a/video/1",
	})
	require.NoError(t, err)
	assert.True(t, sawRowDuringCall.Load())
	assert.Equal(t, "s_provider_123", meta.SnapshotID)

	var stored models.JobMetadata
	require.NoError(t, db.First(&stored, "snapshot_id = ?", "s_provider_123").Error)
	assert.Equal(t, enums.PlatformTikTok, stored.Platform)
}

func TestTriggerProbesAlternateHandleKeys(t *testing.T) {
	db := setupJobsTestDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"snapshotId":"s_camel_456"}`))
	}))
	defer srv.Close()

	client := newTestJobsClient(t, db, srv.URL)

	meta, err := client.TriggerVideos(context.Background(), enums.PlatformInstagram, []string{"u"})
	require.NoError(t, err)
	assert.Equal(t, "s_camel_456", meta.SnapshotID)
}

func TestTriggerKeepsPlaceholderOnProviderFailure(t *testing.T) {
	db := setupJobsTestDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestJobsClient(t, db, srv.URL)

	meta, err := client.TriggerVideos(context.Background(), enums.PlatformTikTok, []string{"u"})
	require.Error(t, err)
	require.NotNil(t, meta)
	assert.True(t, IsPlaceholderHandle(meta.SnapshotID))

	// The placeholder row survives for the webhook fallback path.
	var count int64
	require.NoError(t, db.Model(&models.JobMetadata{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTriggerRetriesServerErrorsExactlyBudget(t *testing.T) {
	db := setupJobsTestDB(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestJobsClient(t, db, srv.URL)

	_, err := client.TriggerVideos(context.Background(), enums.PlatformTikTok, []string{"u"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTriggerDoesNotRetryClientErrors(t *testing.T) {
	db := setupJobsTestDB(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestJobsClient(t, db, srv.URL)

	_, err := client.TriggerVideos(context.Background(), enums.PlatformTikTok, []string{"u"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAwaitReadyStopsOnReady(t *testing.T) {
	db := setupJobsTestDB(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"status":"running"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}))
	defer srv.Close()

	client := newTestJobsClient(t, db, srv.URL)

	require.NoError(t, client.AwaitReady(context.Background(), "s_1"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestAwaitReadyTimeoutIsNotFatal(t *testing.T) {
	db := setupJobsTestDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running"}`))
	}))
	defer srv.Close()

	client := newTestJobsClient(t, db, srv.URL)

	// The provider readiness signal is known to be unreliable; timeout means
	// proceed to a direct fetch, not fail.
	require.NoError(t, client.AwaitReady(context.Background(), "s_stuck"))
}

func TestAwaitReadyAbortsOnProviderFailure(t *testing.T) {
	db := setupJobsTestDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed"}`))
	}))
	defer srv.Close()

	client := newTestJobsClient(t, db, srv.URL)

	require.Error(t, client.AwaitReady(context.Background(), "s_dead"))
}

func TestFetchDataParsesArray(t *testing.T) {
	db := setupJobsTestDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/snapshot/s_1/data", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	}))
	defer srv.Close()

	client := newTestJobsClient(t, db, srv.URL)

	records, err := client.FetchData(context.Background(), "s_1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
