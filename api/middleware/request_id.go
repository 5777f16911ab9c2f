package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/api/responses"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
)

// inbound ids from the edge proxy are trusted only when short and printable.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,128}$`)

// RequestID echoes a caller-supplied X-Request-Id or mints a uuid, and tags
// the request's log context with it.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(responses.RequestIDHeader)
			if !requestIDPattern.MatchString(id) {
				id = uuid.NewString()
			}
			w.Header().Set(responses.RequestIDHeader, id)

			if logg == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(logg.WithRequestID(r.Context(), id)))
		})
	}
}
