// Package credentials validates and holds the telephony account used by the
// voice webhooks. Credentials supplied at runtime override the environment.
package credentials

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/voxrelay/internal/domain"
)

const (
	minSIDLength   = 30
	minTokenLength = 30
	minPhoneLength = 10
)

// ValidateFormat checks the shape of each field without contacting Twilio.
func ValidateFormat(c domain.Credentials) error {
	if !strings.HasPrefix(c.AccountSID, "AC") || len(c.AccountSID) < minSIDLength {
		return &domain.ValidationError{
			Field:   "account_sid",
			Message: "Invalid Account SID format. It should start with 'AC' and be at least 30 characters.",
		}
	}
	if len(c.AuthToken) < minTokenLength {
		return &domain.ValidationError{
			Field:   "auth_token",
			Message: "Invalid Auth Token format. It should be at least 30 characters.",
		}
	}
	if !strings.HasPrefix(c.PhoneNumber, "+") || len(c.PhoneNumber) < minPhoneLength {
		return &domain.ValidationError{
			Field:   "phone_number",
			Message: "Invalid Phone Number format. It should start with '+' (e.g., +1234567890).",
		}
	}
	return nil
}

// Account describes a verified telephony account.
type Account struct {
	FriendlyName  string
	PhoneVerified bool
}

// Verifier checks credentials against the provider.
type Verifier interface {
	Verify(ctx context.Context, c domain.Credentials) (Account, error)
}

// Status is the safe view of the runtime credentials.
type Status struct {
	Configured        bool   `json:"configured"`
	PhoneNumber       string `json:"phone_number"`
	AccountSIDPreview string `json:"account_sid_preview"`
}

// Manager holds environment defaults and an optional runtime override.
type Manager struct {
	verifier Verifier
	logger   *slog.Logger

	mu       sync.RWMutex
	defaults domain.Credentials
	runtime  *domain.Credentials
}

// NewManager creates a manager seeded with environment credentials.
func NewManager(defaults domain.Credentials, verifier Verifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		verifier: verifier,
		logger:   logger,
		defaults: defaults,
	}
}

// Set validates c, verifies it remotely and stores it as the runtime override.
// Nothing is stored unless both checks pass.
func (m *Manager) Set(ctx context.Context, c domain.Credentials) (Account, error) {
	c.AccountSID = strings.TrimSpace(c.AccountSID)
	c.AuthToken = strings.TrimSpace(c.AuthToken)
	c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)

	m.logger.Info("validating telephony credentials", "account_sid", c.MaskedSID(), "phone_number", c.PhoneNumber)

	if err := ValidateFormat(c); err != nil {
		m.logger.Warn("credential format rejected", "error", err)
		return Account{}, err
	}

	account, err := m.verifier.Verify(ctx, c)
	if err != nil {
		m.logger.Error("credential verification failed", "error", err)
		return Account{}, err
	}

	m.mu.Lock()
	stored := c
	m.runtime = &stored
	m.mu.Unlock()

	m.logger.Info("telephony credentials stored", "account_sid", c.MaskedSID(), "account_name", account.FriendlyName)
	return account, nil
}

// Effective returns the runtime credentials if set, otherwise the defaults.
func (m *Manager) Effective() domain.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.runtime != nil {
		return *m.runtime
	}
	return m.defaults
}

// AuthToken returns the effective auth token.
func (m *Manager) AuthToken() string {
	return m.Effective().AuthToken
}

// Status reports configured only for credentials set at runtime.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.runtime == nil || !m.runtime.Complete() {
		return Status{}
	}
	return Status{
		Configured:        true,
		PhoneNumber:       m.runtime.PhoneNumber,
		AccountSIDPreview: m.runtime.MaskedSID(),
	}
}
