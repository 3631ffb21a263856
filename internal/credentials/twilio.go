package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/ashureev/voxrelay/internal/domain"
)

// Twilio REST error codes with dedicated messages.
const (
	codeAuthenticate = 20003
	codeUnauthorized = 20001
)

// TwilioVerifier checks credentials with the Twilio REST API.
type TwilioVerifier struct {
	logger *slog.Logger
}

// NewTwilioVerifier creates a verifier.
func NewTwilioVerifier(logger *slog.Logger) *TwilioVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &TwilioVerifier{logger: logger}
}

type verifyResult struct {
	account Account
	err     error
}

// Verify fetches the account and looks up the phone number on it. A failed
// phone lookup is logged and does not reject the credentials; an empty
// lookup result does.
func (v *TwilioVerifier) Verify(ctx context.Context, c domain.Credentials) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, fmt.Errorf("failed to connect to Twilio: %w", err)
	}

	done := make(chan verifyResult, 1)
	go func() {
		account, err := v.verify(c)
		done <- verifyResult{account: account, err: err}
	}()

	select {
	case <-ctx.Done():
		return Account{}, fmt.Errorf("failed to connect to Twilio: %w", ctx.Err())
	case res := <-done:
		return res.account, res.err
	}
}

func (v *TwilioVerifier) verify(c domain.Credentials) (Account, error) {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: c.AccountSID,
		Password: c.AuthToken,
	})

	acct, err := client.Api.FetchAccount(c.AccountSID)
	if err != nil {
		return Account{}, friendlyError(err)
	}
	if acct == nil {
		return Account{}, &domain.ValidationError{
			Field:   "credentials",
			Message: "Failed to validate credentials with Twilio",
		}
	}

	account := Account{}
	if acct.FriendlyName != nil {
		account.FriendlyName = *acct.FriendlyName
	}

	params := &openapi.ListIncomingPhoneNumberParams{}
	params.SetPhoneNumber(c.PhoneNumber)
	params.SetLimit(1)

	numbers, err := client.Api.ListIncomingPhoneNumber(params)
	if err != nil {
		v.logger.Warn("could not verify phone number", "phone_number", c.PhoneNumber, "error", err)
		return account, nil
	}
	if len(numbers) == 0 {
		return Account{}, &domain.ValidationError{
			Field:   "phone_number",
			Message: fmt.Sprintf("Phone number %s not found in your Twilio account.", c.PhoneNumber),
		}
	}
	account.PhoneVerified = true
	return account, nil
}

// friendlyError maps Twilio failures to messages a user can act on.
func friendlyError(err error) error {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		switch restErr.Code {
		case codeAuthenticate:
			return invalidCredentials()
		case codeUnauthorized:
			return &domain.ValidationError{
				Field:   "credentials",
				Message: "Unauthorized. Please check your Account SID and Auth Token.",
			}
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "20003") || strings.Contains(msg, "Authenticate") {
		return invalidCredentials()
	}
	return fmt.Errorf("failed to connect to Twilio: %w", err)
}

func invalidCredentials() error {
	return &domain.ValidationError{
		Field:   "credentials",
		Message: "Invalid Account SID or Auth Token. Please check your credentials.",
	}
}
