package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/api/responses"
	"github.com/reelrally/reelrally-backend/api/validators"
	"github.com/reelrally/reelrally-backend/internal/verification"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
)

type registerAccountRequest struct {
	ProfileURL string `json:"profile_url" validate:"required,url"`
}

type socialAccountResponse struct {
	ID               uuid.UUID  `json:"id"`
	Platform         string     `json:"platform"`
	Handle           string     `json:"handle"`
	ProfileURL       string     `json:"profile_url"`
	VerificationCode string     `json:"verification_code"`
	Status           string     `json:"status"`
	AttemptCount     int        `json:"attempt_count"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// RegisterSocialAccount enrolls a profile for verification and returns the
// bio code the user must add to it.
func RegisterSocialAccount(reg *verification.Registrar, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reg == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification registrar unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req registerAccountRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		account, err := reg.Register(ctx, userID, req.ProfileURL)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toSocialAccountResponse(account))
	}
}

// VerifySocialAccount queues a verification poll for the account.
func VerifySocialAccount(reg *verification.Registrar, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reg == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification registrar unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		accountID, err := uuid.Parse(chi.URLParam(r, "accountId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}

		account, err := reg.RequestVerification(ctx, userID, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, toSocialAccountResponse(account))
	}
}

func toSocialAccountResponse(account *models.SocialAccount) socialAccountResponse {
	return socialAccountResponse{
		ID:               account.ID,
		Platform:         string(account.Platform),
		Handle:           account.Handle,
		ProfileURL:       account.ProfileURL,
		VerificationCode: account.VerificationCode,
		Status:           string(account.Status),
		AttemptCount:     account.AttemptCount,
		VerifiedAt:       account.VerifiedAt,
		CreatedAt:        account.CreatedAt,
	}
}
