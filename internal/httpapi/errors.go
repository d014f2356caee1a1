package httpapi

import (
	"errors"
	"net/http"

	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// statusFromError maps the typed core error taxonomy (§7) to HTTP
// status codes per §6's table.
func statusFromError(err error) int {
	var (
		notFound      *vault.NotFound
		conflict      *vault.ConflictError
		validation    *vault.ValidationError
		schemaMismatch *vault.SchemaVersionMismatch
		rateLimit     *vault.RateLimitExceeded
		visTimeout    *vault.VisibilityTimeout
		indexFail     *vault.IndexingFailure
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &rateLimit):
		return http.StatusTooManyRequests
	case errors.As(err, &visTimeout), errors.As(err, &indexFail):
		return http.StatusServiceUnavailable
	case errors.As(err, &schemaMismatch):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// retryAfter extracts a retry-after hint in milliseconds, when err
// carries one.
func retryAfter(err error) (int64, bool) {
	var rl *vault.RateLimitExceeded
	if errors.As(err, &rl) {
		return rl.RetryAfterMS, true
	}
	return 0, false
}
