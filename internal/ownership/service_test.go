package ownership

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
)

func setupOwnershipTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	claims := `
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
);`
	claimedIdx := `
CREATE UNIQUE INDEX IF NOT EXISTS ux_ownership_claims_claimed
  ON ownership_claims (platform, external_id) WHERE status = 'claimed';`
	accounts := `
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
);`
	submissions := `
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
);`
	for _, ddl := range []string{claims, claimedIdx, accounts, submissions} {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

func newLedger(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(dbpkg.NewFromConn(db), NewRepository(db), nil)
	require.NoError(t, err)
	return svc
}

func seedAccount(t *testing.T, db *gorm.DB, userID uuid.UUID, platform enums.Platform, status enums.VerificationStatus) *models.SocialAccount {
	t.Helper()
	account := &models.SocialAccount{
		ID:               uuid.New(),
		UserID:           userID,
		Platform:         platform,
		Handle:           "handle-" + uuid.NewString()[:8],
		ProfileURL:       "https://example.com/profile",
		VerificationCode: "rr-code",
		Status:           status,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func TestCheckOwnershipUnclaimedKeyIsPending(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	key := SubjectKey{Platform: enums.PlatformTikTok, ExternalID: "v1"}
	status, err := svc.CheckOwnership(context.Background(), key, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, enums.OwnershipStatusPending, status)
}

func TestCheckOwnershipHolderSeesVerified(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	owner := uuid.New()
	claim := models.OwnershipClaim{
		ID: uuid.New(), Platform: enums.PlatformTikTok, ExternalID: "v1",
		UserID: owner, Status: enums.ClaimStatusClaimed,
	}
	require.NoError(t, db.Create(&claim).Error)

	key := SubjectKey{Platform: enums.PlatformTikTok, ExternalID: "v1"}
	status, err := svc.CheckOwnership(context.Background(), key, owner)
	require.NoError(t, err)
	assert.Equal(t, enums.OwnershipStatusVerified, status)
}

func TestCheckOwnershipConflictWithPendingVerificationIsContested(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	owner := uuid.New()
	challenger := uuid.New()
	claim := models.OwnershipClaim{
		ID: uuid.New(), Platform: enums.PlatformTikTok, ExternalID: "v1",
		UserID: owner, Status: enums.ClaimStatusClaimed,
	}
	require.NoError(t, db.Create(&claim).Error)
	seedAccount(t, db, challenger, enums.PlatformTikTok, enums.VerificationStatusPending)

	key := SubjectKey{Platform: enums.PlatformTikTok, ExternalID: "v1"}
	status, err := svc.CheckOwnership(context.Background(), key, challenger)
	require.NoError(t, err)
	assert.Equal(t, enums.OwnershipStatusContested, status)
}

func TestCheckOwnershipConflictWithoutVerificationIsFailed(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	owner := uuid.New()
	claim := models.OwnershipClaim{
		ID: uuid.New(), Platform: enums.PlatformTikTok, ExternalID: "v1",
		UserID: owner, Status: enums.ClaimStatusClaimed,
	}
	require.NoError(t, db.Create(&claim).Error)

	key := SubjectKey{Platform: enums.PlatformTikTok, ExternalID: "v1"}
	status, err := svc.CheckOwnership(context.Background(), key, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, enums.OwnershipStatusFailed, status)
}

func TestUpsertClaimIsIdempotent(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	key := SubjectKey{Platform: enums.PlatformInstagram, ExternalID: "reel-1"}
	userID := uuid.New()
	input := UpsertClaimInput{Key: key, UserID: userID, Status: enums.ClaimStatusPending}

	var first, second *models.OwnershipClaim
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = svc.UpsertClaim(context.Background(), tx, input)
		return err
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = svc.UpsertClaim(context.Background(), tx, input)
		return err
	}))

	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.OwnershipClaim{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertClaimNeverMovesBackward(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	key := SubjectKey{Platform: enums.PlatformTikTok, ExternalID: "v2"}
	userID := uuid.New()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.UpsertClaim(context.Background(), tx, UpsertClaimInput{
			Key: key, UserID: userID, Status: enums.ClaimStatusClaimed,
		})
		return err
	}))

	var claim *models.OwnershipClaim
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		claim, err = svc.UpsertClaim(context.Background(), tx, UpsertClaimInput{
			Key: key, UserID: userID, Status: enums.ClaimStatusPending,
		})
		return err
	}))
	assert.Equal(t, enums.ClaimStatusClaimed, claim.Status)
}

func TestUpsertClaimExclusivityDowngradesToContested(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	key := SubjectKey{Platform: enums.PlatformTikTok, ExternalID: "v3"}
	holder := uuid.New()
	challenger := uuid.New()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.UpsertClaim(context.Background(), tx, UpsertClaimInput{
			Key: key, UserID: holder, Status: enums.ClaimStatusClaimed,
		})
		return err
	}))

	var claim *models.OwnershipClaim
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		claim, err = svc.UpsertClaim(context.Background(), tx, UpsertClaimInput{
			Key: key, UserID: challenger, Status: enums.ClaimStatusClaimed,
		})
		return err
	}))
	assert.Equal(t, enums.ClaimStatusContested, claim.Status)

	// The original holder is untouched.
	var holderClaim models.OwnershipClaim
	require.NoError(t, db.First(&holderClaim, "user_id = ?", holder).Error)
	assert.Equal(t, enums.ClaimStatusClaimed, holderClaim.Status)
}

func TestResolveOnVerificationPromotesRightfulClaimant(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	owner := uuid.New()
	rival := uuid.New()
	account := seedAccount(t, db, owner, enums.PlatformTikTok, enums.VerificationStatusVerified)

	ownerClaim := models.OwnershipClaim{
		ID: uuid.New(), Platform: enums.PlatformTikTok, ExternalID: "v4",
		UserID: owner, Status: enums.ClaimStatusPending,
		CreatedAt: time.Now().Add(-time.Minute),
	}
	rivalClaim := models.OwnershipClaim{
		ID: uuid.New(), Platform: enums.PlatformTikTok, ExternalID: "v4",
		UserID: rival, Status: enums.ClaimStatusPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&ownerClaim).Error)
	require.NoError(t, db.Create(&rivalClaim).Error)

	ownerSub := models.Submission{
		ID: uuid.New(), UserID: owner, URL: "u", Platform: enums.PlatformTikTok,
		ExternalID: "v4", Status: enums.SubmissionStatusFetchingStats,
		OwnershipStatus: enums.OwnershipStatusPending,
	}
	rivalSub := models.Submission{
		ID: uuid.New(), UserID: rival, URL: "u", Platform: enums.PlatformTikTok,
		ExternalID: "v4", Status: enums.SubmissionStatusFetchingStats,
		OwnershipStatus: enums.OwnershipStatusContested,
	}
	require.NoError(t, db.Create(&ownerSub).Error)
	require.NoError(t, db.Create(&rivalSub).Error)

	require.NoError(t, svc.ResolveOnVerification(context.Background(), account.ID))

	var gotOwner, gotRival models.OwnershipClaim
	require.NoError(t, db.First(&gotOwner, "id = ?", ownerClaim.ID).Error)
	require.NoError(t, db.First(&gotRival, "id = ?", rivalClaim.ID).Error)
	assert.Equal(t, enums.ClaimStatusClaimed, gotOwner.Status)
	assert.Equal(t, enums.ClaimStatusFailed, gotRival.Status)
	require.NotNil(t, gotRival.Reason)

	var gotOwnerSub, gotRivalSub models.Submission
	require.NoError(t, db.First(&gotOwnerSub, "id = ?", ownerSub.ID).Error)
	require.NoError(t, db.First(&gotRivalSub, "id = ?", rivalSub.ID).Error)
	assert.Equal(t, enums.OwnershipStatusVerified, gotOwnerSub.OwnershipStatus)
	assert.Equal(t, enums.OwnershipStatusFailed, gotRivalSub.OwnershipStatus)
	assert.Equal(t, enums.SubmissionStatusFailed, gotRivalSub.Status)
}

func TestResolveOnVerificationLosesToExistingHolder(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	holder := uuid.New()
	late := uuid.New()
	holderAccount := seedAccount(t, db, holder, enums.PlatformTikTok, enums.VerificationStatusVerified)
	lateAccount := seedAccount(t, db, late, enums.PlatformTikTok, enums.VerificationStatusVerified)

	holderClaim := models.OwnershipClaim{
		ID: uuid.New(), Platform: enums.PlatformTikTok, ExternalID: "v5",
		UserID: holder, SocialAccountID: &holderAccount.ID,
		Status: enums.ClaimStatusClaimed, CreatedAt: time.Now().Add(-time.Hour),
	}
	lateClaim := models.OwnershipClaim{
		ID: uuid.New(), Platform: enums.PlatformTikTok, ExternalID: "v5",
		UserID: late, Status: enums.ClaimStatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&holderClaim).Error)
	require.NoError(t, db.Create(&lateClaim).Error)

	require.NoError(t, svc.ResolveOnVerification(context.Background(), lateAccount.ID))

	var gotHolder, gotLate models.OwnershipClaim
	require.NoError(t, db.First(&gotHolder, "id = ?", holderClaim.ID).Error)
	require.NoError(t, db.First(&gotLate, "id = ?", lateClaim.ID).Error)
	assert.Equal(t, enums.ClaimStatusClaimed, gotHolder.Status)
	assert.Equal(t, enums.ClaimStatusFailed, gotLate.Status)
}

func TestResolveOnVerificationRejectsUnverifiedAccount(t *testing.T) {
	db := setupOwnershipTestDB(t)
	svc := newLedger(t, db)

	account := seedAccount(t, db, uuid.New(), enums.PlatformTikTok, enums.VerificationStatusPending)
	err := svc.ResolveOnVerification(context.Background(), account.ID)
	require.Error(t, err)
}
