package http

import (
	"mime"
	"net/http"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/httputil"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/logger"
)

// ContentTypeJSON rejects requests that declare a non-JSON body with 415.
// Requests without a Content-Type pass, since refresh and logout carry no
// body at all.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != "application/json" {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:      "UNSUPPORTED_MEDIA_TYPE",
						Message:   "Content-Type must be application/json",
						RequestID: logger.CorrelationIDFromContext(r.Context()),
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
