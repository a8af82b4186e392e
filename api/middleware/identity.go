package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/api/responses"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
)

const userIDHeader = "X-User-Id"

// Identity extracts the caller identity forwarded by the auth gateway.
// Authentication itself happens upstream; this service only requires that a
// well-formed user id was attached to the request.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(userIDHeader)
			if raw == "" {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
				return
			}
			if _, err := uuid.Parse(raw); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity"))
				return
			}

			ctx := WithUserID(r.Context(), raw)
			if logg != nil {
				ctx = logg.WithUserID(ctx, raw)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
