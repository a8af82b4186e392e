package verification

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/internal/normalizer"
	dbpkg "github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/queue"
)

// Registrar enrolls social accounts for bio-code verification and queues the
// verification polls. The poll itself runs in the worker (Poller).
type Registrar struct {
	client *dbpkg.Client
	repo   *Repository
	events *queue.Service
	logg   *logger.Logger
}

func NewRegistrar(client *dbpkg.Client, repo *Repository, events *queue.Service, logg *logger.Logger) (*Registrar, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if events == nil {
		return nil, fmt.Errorf("ingest queue required")
	}
	return &Registrar{client: client, repo: repo, events: events, logg: logg}, nil
}

// Register creates a pending account for the profile URL and hands back the
// code the user must place in their bio. Re-registering an unverified account
// the user already owns returns the existing row, so the code survives page
// reloads.
func (g *Registrar) Register(ctx context.Context, userID uuid.UUID, profileURL string) (*models.SocialAccount, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	profile, err := normalizer.NormalizeProfile(profileURL)
	if err != nil {
		return nil, err
	}

	existing, err := g.repo.FindByHandle(ctx, profile.Platform, profile.Handle)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
	}
	if existing != nil {
		if existing.UserID != userID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "handle is already registered by another user")
		}
		return existing, nil
	}

	account := &models.SocialAccount{
		UserID:           userID,
		Platform:         profile.Platform,
		Handle:           profile.Handle,
		ProfileURL:       profile.ProfileURL,
		VerificationCode: NewCode(),
		Status:           enums.VerificationStatusPending,
	}
	if err := g.repo.Insert(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating account")
	}
	return account, nil
}

// RequestVerification queues a verification poll for the account. A failed
// account is re-armed: attempts reset so the poller gives it a fresh budget.
func (g *Registrar) RequestVerification(ctx context.Context, userID, accountID uuid.UUID) (*models.SocialAccount, error) {
	account, err := g.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
	}
	if account == nil || account.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "social account not found")
	}
	if account.Status == enums.VerificationStatusVerified {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "account is already verified")
	}

	txErr := g.client.WithTx(ctx, func(tx *gorm.DB) error {
		if account.Status == enums.VerificationStatusFailed {
			err := tx.WithContext(ctx).Model(&models.SocialAccount{}).
				Where("id = ?", account.ID).
				Updates(map[string]any{
					"status":        enums.VerificationStatusPending,
					"attempt_count": 0,
				}).Error
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-arming account")
			}
			account.Status = enums.VerificationStatusPending
			account.AttemptCount = 0
		}
		_, err := g.events.Enqueue(ctx, tx, queue.Event{
			Kind:      enums.IngestEventAccountVerify,
			AccountID: &account.ID,
		})
		return err
	})
	if txErr != nil {
		return nil, txErr
	}

	if g.logg != nil {
		logCtx := g.logg.WithFields(ctx, map[string]any{
			"account_id": account.ID.String(),
			"platform":   account.Platform,
		})
		g.logg.Info(logCtx, "verification poll queued")
	}
	return account, nil
}

// NewCode generates the short code the user places in their profile bio.
// Uppercase hex keeps it easy to read back over support channels; the match
// is case-insensitive anyway.
func NewCode() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "RR-" + strings.ToUpper(uuid.NewString()[:8])
	}
	return "RR-" + strings.ToUpper(hex.EncodeToString(buf))
}
