/**
 * @description
 * This file contains the CredentialGate, which decides whether a caller may debit funds.
 * It checks the transaction PIN against the profile store and, when the profile enforces
 * it, a second factor.
 *
 * Key features:
 * - PIN hashes are HexUpper(SHA-512(salt ":" pin ":" bvn)) with a deployment-wide salt.
 * - Second-factor codes are matched as HexUpper(SHA-512(code)) against stored values.
 * - Every lookup failure is mapped to a typed result; nothing is retried.
 *
 * @dependencies
 * - crypto/sha512, crypto/subtle, encoding/hex: Standard Go crypto helpers.
 * - go.uber.org/zap: Structured logging.
 * - internal/domain, internal/store: Domain models and the credential store.
 */

package app

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/logging"
	"github.com/transfa/settlement-service/internal/store"
	"go.uber.org/zap"
)

// DefaultPINSalt is the salt existing stored PIN hashes were produced with.
const DefaultPINSalt = "KeySaltXXXYYYZZ"

// CredentialGate validates transaction PINs and second factors.
type CredentialGate struct {
	store   store.CredentialStore
	pinSalt string
	logger  *zap.Logger
}

// NewCredentialGate creates a gate over the given store. An empty salt selects DefaultPINSalt.
func NewCredentialGate(credentials store.CredentialStore, pinSalt string, logger *zap.Logger) *CredentialGate {
	if strings.TrimSpace(pinSalt) == "" {
		pinSalt = DefaultPINSalt
	}
	return &CredentialGate{
		store:   credentials,
		pinSalt: pinSalt,
		logger:  logging.Component(logger, "credential_gate"),
	}
}

// HashPIN derives the stored form of a PIN.
func HashPIN(salt, pin, bvn string) string {
	sum := sha512.Sum512([]byte(salt + ":" + pin + ":" + bvn))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// HashSecondFactor derives the stored form of a one-time code or token.
func HashSecondFactor(code string) string {
	sum := sha512.Sum512([]byte(code))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ValidatePin checks pin for username and explains any failure.
func (g *CredentialGate) ValidatePin(ctx context.Context, username, pin string) domain.PinValidationResult {
	if strings.TrimSpace(username) == "" {
		g.logger.Warn("pin validation rejected", zap.String("reason", "username_missing"))
		return failedPin(domain.PinErrorValidationFailed, "Username is required")
	}
	if strings.TrimSpace(pin) == "" {
		g.logger.Warn("pin validation rejected", zap.String("reason", "pin_missing"), zap.String("username", username))
		return failedPin(domain.PinErrorValidationFailed, "PIN is required")
	}

	credential, err := g.store.FindActiveCredential(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			g.logger.Warn("pin validation failed", zap.String("reason", "user_not_found"), zap.String("username", username))
			return failedPin(domain.PinErrorUserNotFound, "PIN validation failed")
		}
		g.logger.Error("pin validation lookup failed", zap.String("username", username), zap.Error(err))
		return failedPin(domain.PinErrorDatabaseError, "PIN validation failed")
	}

	if !credential.PINActive() {
		g.logger.Warn("pin validation failed", zap.String("reason", "pin_inactive"), zap.String("username", username), zap.String("pin_status", credential.PINStatus))
		return failedPin(domain.PinErrorUserNotFound, "PIN validation failed")
	}
	if credential.PINHash == "" || credential.BVN == "" {
		g.logger.Warn("pin validation failed", zap.String("reason", "credential_incomplete"), zap.String("username", username))
		return failedPin(domain.PinErrorValidationFailed, "PIN validation failed")
	}

	derived := HashPIN(g.pinSalt, pin, credential.BVN)
	if subtle.ConstantTimeCompare([]byte(derived), []byte(credential.PINHash)) != 1 {
		g.logger.Info("pin validation failed", zap.String("reason", "invalid_pin"), zap.String("username", username))
		return failedPin(domain.PinErrorInvalidPin, "Invalid PIN")
	}

	g.logger.Info("pin validation succeeded", zap.String("username", username))
	return domain.PinValidationResult{Valid: true, ErrorKind: domain.PinErrorNone}
}

// ValidateSecondFactor checks a one-time code or token against the user's stored hashes.
// The check does not consume the stored value.
func (g *CredentialGate) ValidateSecondFactor(ctx context.Context, username, code string, channel domain.SecondFactorChannel) bool {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(code) == "" {
		return false
	}
	channel, ok := domain.ParseSecondFactorChannel(string(channel))
	if !ok {
		g.logger.Warn("second factor rejected", zap.String("reason", "unknown_channel"), zap.String("username", username))
		return false
	}

	found, err := g.store.SecondFactorExists(ctx, username, channel, HashSecondFactor(code))
	if err != nil {
		g.logger.Error("second factor lookup failed", zap.String("username", username), zap.String("channel", string(channel)), zap.Error(err))
		return false
	}
	if !found {
		g.logger.Info("second factor mismatch", zap.String("username", username), zap.String("channel", string(channel)))
	}
	return found
}

// ValidateWithEnforcement checks the PIN and, when the profile enforces 2FA, the second
// factor. Enforcement without a supplied second factor fails.
func (g *CredentialGate) ValidateWithEnforcement(ctx context.Context, username, pin, secondFactor string, channel domain.SecondFactorChannel) bool {
	if result := g.ValidatePin(ctx, username, pin); !result.Valid {
		return false
	}

	credential, err := g.store.FindActiveCredential(ctx, username)
	if err != nil {
		g.logger.Error("two-factor enforcement lookup failed", zap.String("username", username), zap.Error(err))
		return false
	}
	if !credential.TwoFactorEnforced {
		return true
	}
	if strings.TrimSpace(secondFactor) == "" {
		g.logger.Warn("two-factor enforced but not supplied", zap.String("username", username))
		return false
	}
	return g.ValidateSecondFactor(ctx, username, secondFactor, channel)
}

// SecondFactorShapeValid reports whether code looks like a six digit OTP. It does not
// check possession; ValidateSecondFactor does.
func SecondFactorShapeValid(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func failedPin(kind domain.PinErrorKind, message string) domain.PinValidationResult {
	return domain.PinValidationResult{Valid: false, ErrorKind: kind, Message: message}
}
