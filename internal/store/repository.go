/**
 * @description
 * This file defines the `CredentialStore` interface, the read-only contract the
 * authorization gate needs from the profile database. Keeping it an interface lets the
 * gate be tested with in-memory stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/transfa/settlement-service/internal/domain"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
)

// CredentialStore defines the lookups used for PIN and second-factor checks.
type CredentialStore interface {
	// FindActiveCredential returns the credential of an active profile, or
	// ErrCredentialNotFound.
	FindActiveCredential(ctx context.Context, username string) (*domain.Credential, error)
	// SecondFactorExists reports whether the hashed code is on record for the user and channel.
	SecondFactorExists(ctx context.Context, username string, channel domain.SecondFactorChannel, hashedCode string) (bool, error)
}
