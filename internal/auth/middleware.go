package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// RefreshMiddleware re-mirrors account state onto enriched sessions at most
// once per interval. Revoked sessions continue down the chain without an
// identity, so guarded routes answer 401.
func RefreshMiddleware(svc *Service, interval time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if svc.NeedsRefresh(sess, interval) {
				err := svc.Refresh(r.Context(), sess)
				if err != nil && !errors.Is(err, shared.ErrAuthenticationRequired) {
					// retried on the next request; the guard re-reads the store anyway
					logger.WarnContext(r.Context(), "session refresh failed", slog.Any("error", err))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
