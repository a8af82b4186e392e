package ownership

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
)

const (
	reasonAlreadyClaimed = "ownership already claimed by another verified account"
	reasonLostResolution = "another account verified ownership of this video first"
)

// Service is the ownership claim ledger. Per-key mutations run inside a
// single transaction and rely on the claimed-state partial unique index for
// exclusivity under concurrent writers.
type Service interface {
	CheckOwnership(ctx context.Context, key SubjectKey, userID uuid.UUID) (enums.OwnershipStatus, error)
	UpsertClaim(ctx context.Context, tx *gorm.DB, input UpsertClaimInput) (*models.OwnershipClaim, error)
	ResolveOnVerification(ctx context.Context, accountID uuid.UUID) error
}

// UpsertClaimInput identifies the claim to merge.
type UpsertClaimInput struct {
	Key       SubjectKey
	UserID    uuid.UUID
	AccountID *uuid.UUID
	Status    enums.ClaimStatus
}

type service struct {
	client *dbpkg.Client
	repo   *Repository
	logg   *logger.Logger
}

// NewService builds the claim ledger.
func NewService(client *dbpkg.Client, repo *Repository, logg *logger.Logger) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ownership repository required")
	}
	return &service{client: client, repo: repo, logg: logg}, nil
}

// CheckOwnership classifies a new submission's ownership position for the
// subject key. A conflicting verified claim rejects the submission outright
// only when the submitter has no verification of their own in flight.
func (s *service) CheckOwnership(ctx context.Context, key SubjectKey, userID uuid.UUID) (enums.OwnershipStatus, error) {
	claims, err := s.repo.ClaimsForKey(ctx, nil, key)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading claims")
	}

	var holder *models.OwnershipClaim
	for i := range claims {
		if claims[i].Status == enums.ClaimStatusClaimed {
			holder = &claims[i]
			break
		}
	}

	if holder == nil {
		return enums.OwnershipStatusPending, nil
	}
	if holder.UserID == userID {
		return enums.OwnershipStatusVerified, nil
	}

	inFlight, err := s.repo.HasPendingVerification(ctx, nil, userID, key.Platform)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking pending verification")
	}
	if inFlight {
		return enums.OwnershipStatusContested, nil
	}
	return enums.OwnershipStatusFailed, nil
}

// UpsertClaim merges a claim for (key, user) inside the caller's transaction.
// Re-submitting the same pair never duplicates a row, and status only moves
// forward. A claimed-exclusivity violation downgrades the request to
// contested rather than overwriting the holder.
func (s *service) UpsertClaim(ctx context.Context, tx *gorm.DB, input UpsertClaimInput) (*models.OwnershipClaim, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid claim status")
	}

	existing, err := s.repo.FindClaim(ctx, tx, input.Key, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading claim")
	}

	if existing == nil {
		claim := &models.OwnershipClaim{
			ID:              uuid.New(),
			Platform:        input.Key.Platform,
			ExternalID:      input.Key.ExternalID,
			UserID:          input.UserID,
			SocialAccountID: input.AccountID,
			Status:          input.Status,
		}
		// Savepoint so a constraint violation leaves the enclosing
		// transaction usable for the contested retry.
		tx.SavePoint("claim_upsert")
		if err := s.repo.Insert(ctx, tx, claim); err != nil {
			tx.RollbackTo("claim_upsert")
			if dbpkg.IsUniqueViolation(err, "ux_ownership_claims_claimed") {
				claim.Status = enums.ClaimStatusContested
				if retryErr := s.repo.Insert(ctx, tx, claim); retryErr != nil {
					return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, retryErr, "inserting contested claim")
				}
				return claim, nil
			}
			if dbpkg.IsUniqueViolation(err, "ux_ownership_claims_subject_user") {
				// Lost the insert race to a concurrent submission for the
				// same pair; merge into the surviving row.
				return s.mergeExisting(ctx, tx, input)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "inserting claim")
		}
		return claim, nil
	}

	return s.advanceClaim(ctx, tx, existing, input)
}

func (s *service) mergeExisting(ctx context.Context, tx *gorm.DB, input UpsertClaimInput) (*models.OwnershipClaim, error) {
	existing, err := s.repo.FindClaim(ctx, tx, input.Key, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading claim")
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "claim vanished during merge")
	}
	return s.advanceClaim(ctx, tx, existing, input)
}

func (s *service) advanceClaim(ctx context.Context, tx *gorm.DB, existing *models.OwnershipClaim, input UpsertClaimInput) (*models.OwnershipClaim, error) {
	updates := map[string]any{}
	if input.AccountID != nil && existing.SocialAccountID == nil {
		updates["social_account_id"] = *input.AccountID
		existing.SocialAccountID = input.AccountID
	}

	if input.Status != existing.Status && existing.Status.CanTransitionTo(input.Status) {
		updates["status"] = input.Status
		existing.Status = input.Status
	}

	if len(updates) == 0 {
		return existing, nil
	}

	tx.SavePoint("claim_advance")
	if err := s.repo.UpdateClaim(ctx, tx, existing.ID, updates); err != nil {
		tx.RollbackTo("claim_advance")
		if dbpkg.IsUniqueViolation(err, "ux_ownership_claims_claimed") {
			delete(updates, "status")
			existing.Status = enums.ClaimStatusContested
			updates["status"] = enums.ClaimStatusContested
			if retryErr := s.repo.UpdateClaim(ctx, tx, existing.ID, updates); retryErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, retryErr, "contesting claim")
			}
			return existing, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating claim")
	}
	return existing, nil
}

// ResolveOnVerification re-evaluates every subject key the newly-verified
// account holds a claim on, in one pass, so sibling submissions land in a
// consistent state. First verified claimant wins; ties between already
// verified claimants break by claim creation order.
func (s *service) ResolveOnVerification(ctx context.Context, accountID uuid.UUID) error {
	return s.client.WithTx(ctx, func(tx *gorm.DB) error {
		account, err := s.repo.AccountByID(ctx, tx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading account")
		}
		if account.Status != enums.VerificationStatusVerified {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "account is not verified")
		}

		if err := s.repo.AttachAccount(ctx, tx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "attaching account to claims")
		}

		keys, err := s.repo.KeysForAccount(ctx, tx, account.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing claimed keys")
		}

		for _, key := range keys {
			if err := s.resolveKey(ctx, tx, key, account); err != nil {
				return err
			}
		}

		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"account_id": account.ID.String(),
				"platform":   account.Platform,
				"keys":       len(keys),
			})
			s.logg.Info(logCtx, "ownership conflict resolution complete")
		}
		return nil
	})
}

func (s *service) resolveKey(ctx context.Context, tx *gorm.DB, key SubjectKey, account *models.SocialAccount) error {
	claims, err := s.repo.ClaimsForKey(ctx, tx, key)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading claims for key")
	}

	accounts, err := s.claimAccounts(ctx, tx, claims)
	if err != nil {
		return err
	}

	winner := pickWinner(claims, accounts)
	if winner == nil {
		return nil
	}

	for i := range claims {
		claim := &claims[i]
		switch {
		case claim.ID == winner.ID:
			if claim.Status != enums.ClaimStatusClaimed {
				err := s.repo.UpdateClaim(ctx, tx, claim.ID, map[string]any{
					"status": enums.ClaimStatusClaimed,
					"reason": nil,
				})
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "promoting winning claim")
				}
			}
		case claim.UserID != winner.UserID && claim.Status != enums.ClaimStatusFailed:
			err := s.repo.UpdateClaim(ctx, tx, claim.ID, map[string]any{
				"status": enums.ClaimStatusFailed,
				"reason": reasonLostResolution,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failing losing claim")
			}
		}
	}

	return s.restateSubmissions(ctx, tx, key, winner)
}

func (s *service) claimAccounts(ctx context.Context, tx *gorm.DB, claims []models.OwnershipClaim) (map[uuid.UUID]models.SocialAccount, error) {
	var ids []uuid.UUID
	for _, claim := range claims {
		if claim.SocialAccountID != nil {
			ids = append(ids, *claim.SocialAccountID)
		}
	}
	accounts, err := s.repo.AccountsByIDs(ctx, tx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading claim accounts")
	}
	return accounts, nil
}

// pickWinner returns the claim that should hold claimed state: the existing
// holder if any, otherwise the earliest-created claim backed by a verified
// account.
func pickWinner(claims []models.OwnershipClaim, accounts map[uuid.UUID]models.SocialAccount) *models.OwnershipClaim {
	for i := range claims {
		if claims[i].Status == enums.ClaimStatusClaimed {
			return &claims[i]
		}
	}
	for i := range claims {
		claim := &claims[i]
		if claim.Status == enums.ClaimStatusFailed || claim.SocialAccountID == nil {
			continue
		}
		account, ok := accounts[*claim.SocialAccountID]
		if !ok || account.Status != enums.VerificationStatusVerified {
			continue
		}
		return claim
	}
	return nil
}

func (s *service) restateSubmissions(ctx context.Context, tx *gorm.DB, key SubjectKey, winner *models.OwnershipClaim) error {
	submissions, err := s.repo.SubmissionsForKey(ctx, tx, key)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading submissions for key")
	}

	for _, submission := range submissions {
		if submission.UserID == winner.UserID {
			if submission.OwnershipStatus == enums.OwnershipStatusVerified {
				continue
			}
			err := s.repo.UpdateSubmission(ctx, tx, submission.ID, map[string]any{
				"ownership_status": enums.OwnershipStatusVerified,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verifying submission ownership")
			}
			continue
		}

		if submission.OwnershipStatus == enums.OwnershipStatusFailed {
			continue
		}
		err := s.repo.UpdateSubmission(ctx, tx, submission.ID, map[string]any{
			"ownership_status": enums.OwnershipStatusFailed,
			"status":           enums.SubmissionStatusFailed,
			"failure_reason":   reasonAlreadyClaimed,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failing conflicting submission")
		}
	}
	return nil
}
