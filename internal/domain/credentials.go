package domain

// Credentials identifies a telephony provider account.
type Credentials struct {
	AccountSID  string `json:"account_sid"`
	AuthToken   string `json:"-"`
	PhoneNumber string `json:"phone_number"`
}

// Complete returns true if every field is populated.
func (c Credentials) Complete() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.PhoneNumber != ""
}

// MaskedSID returns the first ten characters of the account id followed by an
// ellipsis, or an empty string when no id is set.
func (c Credentials) MaskedSID() string {
	if c.AccountSID == "" {
		return ""
	}
	if len(c.AccountSID) <= 10 {
		return c.AccountSID + "..."
	}
	return c.AccountSID[:10] + "..."
}
