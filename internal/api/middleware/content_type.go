package middleware

import (
	"mime"
	"net/http"

	"github.com/breatheroute/airnav/internal/api/models"
)

// RequireJSON rejects POST, PUT and PATCH bodies declared as anything other
// than application/json. A missing Content-Type passes.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if ct := r.Header.Get("Content-Type"); ct != "" {
				if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
					problem := models.NewProblem(models.ProblemTypeUnsupportedType, "Unsupported media type",
						http.StatusUnsupportedMediaType, GetRequestID(r.Context()))
					problem.Detail = "Content-Type must be application/json"
					problem.Instance = r.URL.Path
					problem.Write(w)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
