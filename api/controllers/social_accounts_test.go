package controllers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/internal/verification"
	dbpkg "github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	"github.com/reelrally/reelrally-backend/pkg/queue"
)

func setupAccountsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{`
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
  updated_at DATETIME,
  UNIQUE (platform, handle)
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

func newTestRegistrar(t *testing.T, db *gorm.DB) *verification.Registrar {
	t.Helper()
	reg, err := verification.NewRegistrar(
		dbpkg.NewFromConn(db),
		verification.NewRepository(db),
		queue.NewService(queue.NewRepository(db), nil),
		nil,
	)
	require.NoError(t, err)
	return reg
}

func TestRegisterSocialAccountIssuesCode(t *testing.T) {
	db := setupAccountsTestDB(t)
	reg := newTestRegistrar(t, db)
	userID := uuid.New()

	body := []byte(`{"profile_url":"https://www.tiktok.com/@creator.one"}`)
	req := authedRequest(t, http.MethodPost, "/v1/social-accounts", body, userID)
	w := httptest.NewRecorder()
	RegisterSocialAccount(reg, nil)(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var stored models.SocialAccount
	require.NoError(t, db.First(&stored, "handle = ?", "creator.one").Error)
	assert.Equal(t, enums.VerificationStatusPending, stored.Status)
	assert.True(t, strings.HasPrefix(stored.VerificationCode, "RR-"))
	assert.Equal(t, userID, stored.UserID)
}

func TestRegisterSocialAccountIdempotentForOwner(t *testing.T) {
	db := setupAccountsTestDB(t)
	reg := newTestRegistrar(t, db)
	userID := uuid.New()

	body := []byte(`{"profile_url":"https://www.tiktok.com/@creator.one"}`)
	for i := 0; i < 2; i++ {
		req := authedRequest(t, http.MethodPost, "/v1/social-accounts", body, userID)
		w := httptest.NewRecorder()
		RegisterSocialAccount(reg, nil)(w, req)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	var count int64
	require.NoError(t, db.Model(&models.SocialAccount{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRegisterSocialAccountRejectsForeignHandle(t *testing.T) {
	db := setupAccountsTestDB(t)
	reg := newTestRegistrar(t, db)

	body := []byte(`{"profile_url":"https://www.tiktok.com/@creator.one"}`)
	req := authedRequest(t, http.MethodPost, "/v1/social-accounts", body, uuid.New())
	w := httptest.NewRecorder()
	RegisterSocialAccount(reg, nil)(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = authedRequest(t, http.MethodPost, "/v1/social-accounts", body, uuid.New())
	w = httptest.NewRecorder()
	RegisterSocialAccount(reg, nil)(w, req)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestVerifySocialAccountQueuesPoll(t *testing.T) {
	db := setupAccountsTestDB(t)
	reg := newTestRegistrar(t, db)
	userID := uuid.New()
	accountID := uuid.New()
	require.NoError(t, db.Exec(`
		INSERT INTO social_accounts (id, user_id, platform, handle, profile_url, verification_code, status, created_at, updated_at)
		VALUES (?, ?, 'tiktok', 'creator.one', 'https://www.tiktok.com/@creator.one', 'RR-1234', 'pending', ?, ?)`,
		accountID.String(), userID.String(), time.Now().UTC(), time.Now().UTC()).Error)

	router := chi.NewRouter()
	router.Post("/v1/social-accounts/{accountId}/verify", VerifySocialAccount(reg, nil))

	req := authedRequest(t, http.MethodPost, "/v1/social-accounts/"+accountID.String()+"/verify", nil, userID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var event models.IngestEvent
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, enums.IngestEventAccountVerify, event.Kind)
	require.NotNil(t, event.AccountID)
	assert.Equal(t, accountID, *event.AccountID)
}

func TestVerifySocialAccountReArmsFailedAccount(t *testing.T) {
	db := setupAccountsTestDB(t)
	reg := newTestRegistrar(t, db)
	userID := uuid.New()
	accountID := uuid.New()
	require.NoError(t, db.Exec(`
		INSERT INTO social_accounts (id, user_id, platform, handle, profile_url, verification_code, status, attempt_count, created_at, updated_at)
		VALUES (?, ?, 'tiktok', 'creator.one', 'https://www.tiktok.com/@creator.one', 'RR-1234', 'failed', 3, ?, ?)`,
		accountID.String(), userID.String(), time.Now().UTC(), time.Now().UTC()).Error)

	router := chi.NewRouter()
	router.Post("/v1/social-accounts/{accountId}/verify", VerifySocialAccount(reg, nil))

	req := authedRequest(t, http.MethodPost, "/v1/social-accounts/"+accountID.String()+"/verify", nil, userID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var stored models.SocialAccount
	require.NoError(t, db.First(&stored, "id = ?", accountID).Error)
	assert.Equal(t, enums.VerificationStatusPending, stored.Status)
	assert.Zero(t, stored.AttemptCount)
}

func TestVerifySocialAccountRejectsVerified(t *testing.T) {
	db := setupAccountsTestDB(t)
	reg := newTestRegistrar(t, db)
	userID := uuid.New()
	accountID := uuid.New()
	require.NoError(t, db.Exec(`
		INSERT INTO social_accounts (id, user_id, platform, handle, profile_url, verification_code, status, created_at, updated_at)
		VALUES (?, ?, 'tiktok', 'creator.one', 'https://www.tiktok.com/@creator.one', 'RR-1234', 'verified', ?, ?)`,
		accountID.String(), userID.String(), time.Now().UTC(), time.Now().UTC()).Error)

	router := chi.NewRouter()
	router.Post("/v1/social-accounts/{accountId}/verify", VerifySocialAccount(reg, nil))

	req := authedRequest(t, http.MethodPost, "/v1/social-accounts/"+accountID.String()+"/verify", nil, userID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestVerifySocialAccountHidesForeignAccounts(t *testing.T) {
	db := setupAccountsTestDB(t)
	reg := newTestRegistrar(t, db)
	accountID := uuid.New()
	require.NoError(t, db.Exec(`
		INSERT INTO social_accounts (id, user_id, platform, handle, profile_url, verification_code, status, created_at, updated_at)
		VALUES (?, ?, 'tiktok', 'creator.one', 'https://www.tiktok.com/@creator.one', 'RR-1234', 'pending', ?, ?)`,
		accountID.String(), uuid.NewString(), time.Now().UTC(), time.Now().UTC()).Error)

	router := chi.NewRouter()
	router.Post("/v1/social-accounts/{accountId}/verify", VerifySocialAccount(reg, nil))

	req := authedRequest(t, http.MethodPost, "/v1/social-accounts/"+accountID.String()+"/verify", nil, uuid.New())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
