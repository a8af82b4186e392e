package controllers

import (
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/api/middleware"
	"github.com/reelrally/reelrally-backend/api/responses"
	"github.com/reelrally/reelrally-backend/api/validators"
	"github.com/reelrally/reelrally-backend/internal/submissions"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
)

type createSubmissionsRequest struct {
	URLs      []string `json:"urls" validate:"required,min=1,max=20,dive,required"`
	ContestID *string  `json:"contest_id" validate:"omitempty,uuid"`
}

type submissionResponse struct {
	ID                 uuid.UUID `json:"id"`
	ContestID          *string   `json:"contest_id,omitempty"`
	URL                string    `json:"url"`
	Platform           string    `json:"platform"`
	ExternalID         string    `json:"external_id"`
	Status             string    `json:"status"`
	OwnershipStatus    string    `json:"ownership_status"`
	HashtagVerdict     *string   `json:"hashtag_verdict,omitempty"`
	DescriptionVerdict *string   `json:"description_verdict,omitempty"`
	FailureReason      *string   `json:"failure_reason,omitempty"`
	RawAssetURL        *string   `json:"raw_asset_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CreateSubmissions accepts a batch of video URLs, optionally as a multipart
// form carrying the user's own upload of the video file. Processing is
// asynchronous: the response is 202 and the rows advance as the pipeline
// runs.
func CreateSubmissions(svc submissions.Service, maxUploadMB int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "submission service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req createSubmissionsRequest
		var upload *submissions.RawUpload
		var file multipart.File

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(int64(maxUploadMB) << 20); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart form"))
				return
			}
			req.URLs = r.MultipartForm.Value["urls"]
			if contest := r.FormValue("contest_id"); contest != "" {
				req.ContestID = &contest
			}
			if err := validators.ValidateStruct(&req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			f, header, err := r.FormFile("video")
			if err == nil {
				file = f
				upload = &submissions.RawUpload{Filename: header.Filename, Body: f}
			} else if err != http.ErrMissingFile {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid video upload"))
				return
			}
		} else {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}
		if file != nil {
			defer file.Close()
		}

		input := submissions.CreateInput{URLs: req.URLs, RawUpload: upload}
		if req.ContestID != nil {
			contestID, err := uuid.Parse(*req.ContestID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid contest id"))
				return
			}
			input.ContestID = &contestID
		}

		created, err := svc.Create(ctx, userID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]submissionResponse, 0, len(created))
		for _, sub := range created {
			out = append(out, toSubmissionResponse(sub))
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"submissions": out})
	}
}

// GetSubmission returns the pipeline state of one submission.
func GetSubmission(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "submission service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "submissionId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid submission id"))
			return
		}

		submission, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if submission.UserID != userID {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "submission not found"))
			return
		}
		responses.WriteSuccess(w, toSubmissionResponse(*submission))
	}
}

// ListSubmissions returns the caller's submissions, newest first.
func ListSubmissions(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "submission service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		listed, err := svc.ListByUser(ctx, userID, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]submissionResponse, 0, len(listed))
		for _, sub := range listed {
			out = append(out, toSubmissionResponse(sub))
		}
		responses.WriteSuccess(w, map[string]any{"submissions": out})
	}
}

func toSubmissionResponse(sub models.Submission) submissionResponse {
	resp := submissionResponse{
		ID:              sub.ID,
		URL:             sub.URL,
		Platform:        string(sub.Platform),
		ExternalID:      sub.ExternalID,
		Status:          string(sub.Status),
		OwnershipStatus: string(sub.OwnershipStatus),
		FailureReason:   sub.FailureReason,
		RawAssetURL:     sub.RawAssetURL,
		CreatedAt:       sub.CreatedAt,
		UpdatedAt:       sub.UpdatedAt,
	}
	if sub.ContestID != nil {
		contest := sub.ContestID.String()
		resp.ContestID = &contest
	}
	if sub.HashtagVerdict != nil {
		verdict := string(*sub.HashtagVerdict)
		resp.HashtagVerdict = &verdict
	}
	if sub.DescriptionVerdict != nil {
		verdict := string(*sub.DescriptionVerdict)
		resp.DescriptionVerdict = &verdict
	}
	return resp
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity")
	}
	return userID, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, name+" must be a non-negative integer")
	}
	return value, nil
}
