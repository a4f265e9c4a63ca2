/**
 * @description
 * Domain models for transaction authorization: the stored credential a PIN is checked
 * against, the second-factor channels, and the structured result of a PIN check.
 *
 * @notes
 * - Credentials are owned by the profile store; this service only reads them.
 */

package domain

import "strings"

// PINStatusActive is the only PIN status that may validate.
const PINStatusActive = "Active"

// Credential is the PIN material stored for a profile.
type Credential struct {
	Username          string `json:"username"`
	PINHash           string `json:"-"`
	BVN               string `json:"-"`
	PINStatus         string `json:"pin_status"`
	TwoFactorEnforced bool   `json:"two_factor_enforced"`
}

// PINActive reports whether the stored PIN status allows validation.
func (c *Credential) PINActive() bool {
	return c != nil && strings.EqualFold(strings.TrimSpace(c.PINStatus), PINStatusActive)
}

// SecondFactorChannel identifies where a one-time code was delivered.
type SecondFactorChannel string

const (
	ChannelSMS   SecondFactorChannel = "SMS"
	ChannelEmail SecondFactorChannel = "EMAIL"
	ChannelToken SecondFactorChannel = "TOKEN"
)

// ParseSecondFactorChannel normalizes a caller-supplied channel name.
func ParseSecondFactorChannel(raw string) (SecondFactorChannel, bool) {
	switch SecondFactorChannel(strings.ToUpper(strings.TrimSpace(raw))) {
	case ChannelSMS:
		return ChannelSMS, true
	case ChannelEmail:
		return ChannelEmail, true
	case ChannelToken:
		return ChannelToken, true
	}
	return "", false
}

// PinErrorKind classifies why a PIN check did not pass.
type PinErrorKind string

const (
	PinErrorNone             PinErrorKind = "None"
	PinErrorInvalidPin       PinErrorKind = "InvalidPin"
	PinErrorValidationFailed PinErrorKind = "ValidationFailed"
	PinErrorUserNotFound     PinErrorKind = "UserNotFound"
	PinErrorDatabaseError    PinErrorKind = "DatabaseError"
)

// PinValidationResult is the outcome of a single PIN check.
type PinValidationResult struct {
	Valid     bool         `json:"is_valid"`
	ErrorKind PinErrorKind `json:"error_type"`
	Message   string       `json:"error_message,omitempty"`
}

// PinValidationRequest is the DTO accepted by the PIN validation endpoint.
type PinValidationRequest struct {
	Username string `json:"username"`
	Pin      string `json:"pin"`
}

// SecondFactorRequest is the DTO accepted by the second-factor validation endpoint.
type SecondFactorRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
	Channel  string `json:"channel"`
}
