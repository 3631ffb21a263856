package voice

import (
	"log/slog"
	"net/http"

	twclient "github.com/twilio/twilio-go/client"

	"github.com/ashureev/voxrelay/internal/api"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Twilio-Signature"

// SignatureMiddleware rejects webhook requests whose signature does not match
// the current auth token. token is read per request so credentials set at
// runtime take effect immediately.
func SignatureMiddleware(token func() string, publicBaseURL string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authToken := token()
			if authToken == "" {
				logger.Warn("signature check skipped: no auth token configured", "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
			if err := r.ParseForm(); err != nil {
				api.Error(w, http.StatusBadRequest, "invalid form body")
				return
			}

			params := make(map[string]string, len(r.PostForm))
			for k, v := range r.PostForm {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}

			url := externalOrigin(r, publicBaseURL) + r.URL.RequestURI()
			validator := twclient.NewRequestValidator(authToken)
			if !validator.Validate(url, params, r.Header.Get(SignatureHeader)) {
				logger.Warn("rejected webhook with invalid signature", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				api.Error(w, http.StatusForbidden, "invalid signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
