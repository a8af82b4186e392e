package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelrally/reelrally-backend/api/middleware"
	"github.com/reelrally/reelrally-backend/internal/submissions"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/types"
)

type fakeSubmissionService struct {
	created   []models.Submission
	createErr error
	got       *models.Submission
	listed    []models.Submission

	lastUserID uuid.UUID
	lastInput  submissions.CreateInput
}

func (f *fakeSubmissionService) Create(ctx context.Context, userID uuid.UUID, input submissions.CreateInput) ([]models.Submission, error) {
	f.lastUserID = userID
	f.lastInput = input
	return f.created, f.createErr
}

func (f *fakeSubmissionService) Get(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	if f.got == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
	}
	return f.got, nil
}

func (f *fakeSubmissionService) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Submission, error) {
	return f.listed, nil
}

func authedRequest(t *testing.T, method, target string, body []byte, userID uuid.UUID) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func TestCreateSubmissionsAccepted(t *testing.T) {
	userID := uuid.New()
	svc := &fakeSubmissionService{created: []models.Submission{{
		ID:              uuid.New(),
		UserID:          userID,
		URL:             "https://www.tiktok.com/@maker/video/123",
		Platform:        enums.PlatformTikTok,
		ExternalID:      "123",
		Status:          enums.SubmissionStatusUploaded,
		OwnershipStatus: enums.OwnershipStatusPending,
	}}}

	body := []byte(`{"urls":["https://www.tiktok.com/@maker/video/123"]}`)
	req := authedRequest(t, http.MethodPost, "/v1/submissions", body, userID)
	w := httptest.NewRecorder()
	CreateSubmissions(svc, 200, nil)(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, userID, svc.lastUserID)
	require.Len(t, svc.lastInput.URLs, 1)

	var envelope types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	payload := envelope.Data.(map[string]any)
	require.Len(t, payload["submissions"], 1)
}

func TestCreateSubmissionsRejectsEmptyBatch(t *testing.T) {
	svc := &fakeSubmissionService{}
	req := authedRequest(t, http.MethodPost, "/v1/submissions", []byte(`{"urls":[]}`), uuid.New())
	w := httptest.NewRecorder()
	CreateSubmissions(svc, 200, nil)(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSubmissionsRequiresIdentity(t *testing.T) {
	svc := &fakeSubmissionService{}
	req := httptest.NewRequest(http.MethodPost, "/v1/submissions",
		bytes.NewReader([]byte(`{"urls":["https://www.tiktok.com/@maker/video/1"]}`)))
	w := httptest.NewRecorder()
	CreateSubmissions(svc, 200, nil)(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSubmissionsParsesContestID(t *testing.T) {
	svc := &fakeSubmissionService{}
	contestID := uuid.New()
	body := []byte(`{"urls":["https://www.tiktok.com/@maker/video/1"],"contest_id":"` + contestID.String() + `"}`)
	req := authedRequest(t, http.MethodPost, "/v1/submissions", body, uuid.New())
	w := httptest.NewRecorder()
	CreateSubmissions(svc, 200, nil)(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, svc.lastInput.ContestID)
	assert.Equal(t, contestID, *svc.lastInput.ContestID)
}

func TestGetSubmissionHidesOtherUsersRows(t *testing.T) {
	owner := uuid.New()
	sub := &models.Submission{ID: uuid.New(), UserID: owner, Status: enums.SubmissionStatusApproved}
	svc := &fakeSubmissionService{got: sub}

	router := chi.NewRouter()
	router.Get("/v1/submissions/{submissionId}", GetSubmission(svc, nil))

	req := authedRequest(t, http.MethodGet, "/v1/submissions/"+sub.ID.String(), nil, uuid.New())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)

	req = authedRequest(t, http.MethodGet, "/v1/submissions/"+sub.ID.String(), nil, owner)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListSubmissionsValidatesPagination(t *testing.T) {
	svc := &fakeSubmissionService{}
	req := authedRequest(t, http.MethodGet, "/v1/submissions?limit=-3", nil, uuid.New())
	w := httptest.NewRecorder()
	ListSubmissions(svc, nil)(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
