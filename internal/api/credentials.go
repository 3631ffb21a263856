package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voxrelay/internal/credentials"
	"github.com/ashureev/voxrelay/internal/domain"
	"github.com/ashureev/voxrelay/internal/events"
)

// CredentialsHandler lets the browser client configure telephony credentials.
type CredentialsHandler struct {
	manager *credentials.Manager
	journal events.Journal
	logger  *slog.Logger
}

// NewCredentialsHandler creates a CredentialsHandler.
func NewCredentialsHandler(m *credentials.Manager, journal events.Journal, logger *slog.Logger) *CredentialsHandler {
	if journal == nil {
		journal = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialsHandler{manager: m, journal: journal, logger: logger}
}

// RegisterRoutes mounts GET and POST /api/twilio/credentials.
func (h *CredentialsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/twilio/credentials", h.Get)
	r.Post("/api/twilio/credentials", h.Set)
}

// Get reports whether credentials were configured at runtime. The auth token
// is never returned.
func (h *CredentialsHandler) Get(w http.ResponseWriter, _ *http.Request) {
	st := h.manager.Status()
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":              "success",
		"configured":          st.Configured,
		"phone_number":        st.PhoneNumber,
		"account_sid_preview": st.AccountSIDPreview,
	})
}

// Set validates and stores credentials posted as a form.
func (h *CredentialsHandler) Set(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		statusError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	c := domain.Credentials{
		AccountSID:  r.PostFormValue("account_sid"),
		AuthToken:   r.PostFormValue("auth_token"),
		PhoneNumber: r.PostFormValue("phone_number"),
	}

	account, err := h.manager.Set(r.Context(), c)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			statusError(w, http.StatusBadRequest, verr.Message)
			return
		}
		statusError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.journal.Log(events.New(events.TypeTwilioConfig, "", "credentials_validated_and_set", map[string]any{
		"account_sid_set": true,
		"phone_number":    h.manager.Status().PhoneNumber,
		"phone_verified":  account.PhoneVerified,
		"account_name":    account.FriendlyName,
	}))

	JSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Twilio credentials validated and connected successfully",
	})
}
