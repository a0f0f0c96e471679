package daemon

import (
	"log/slog"
	"net/http"

	"github.com/axon-embed/axon/internal/logging"
)

// secretHeader is the header inbound requests carry the shared webhook
// secret in (spec §6).
const secretHeader = "x-axon-embedder-secret"

// requireSecret wraps next with the daemon's shared-secret auth check.
// Requests with a missing header, a mismatched length, or a mismatched
// value all receive an identical 401 with an empty body — the secret value
// itself is never echoed or logged.
func requireSecret(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(secretHeader)
		if !secretsEqual(got, secret) {
			logging.FromContext(r.Context()).Warn("daemon: auth rejected",
				slog.String("path", r.URL.Path),
				slog.Bool("header_present", got != ""),
			)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
