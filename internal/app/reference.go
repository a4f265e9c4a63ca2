package app

import (
	"crypto/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const settlementRefPrefix = "STL"

// ReferenceGenerator produces the settlement reference sent as TransactionRef.
type ReferenceGenerator interface {
	Next(now time.Time) string
}

// ULIDReferences yields "STL" + a monotonic ULID. Two settlements in the same
// millisecond still get distinct, ordered references.
type ULIDReferences struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewULIDReferences creates a generator backed by crypto/rand.
func NewULIDReferences() *ULIDReferences {
	return &ULIDReferences{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ULIDReferences) Next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return settlementRefPrefix + ulid.MustNew(ulid.Timestamp(now), g.entropy).String()
}

// LegacyReferences yields "STL" + unix seconds, the format older backends match on.
// Concurrent settlements within one second collide.
type LegacyReferences struct{}

func (LegacyReferences) Next(now time.Time) string {
	return settlementRefPrefix + strconv.FormatInt(now.Unix(), 10)
}

// NewReferenceGenerator picks a generator by configured mode ("ulid" or "legacy").
func NewReferenceGenerator(mode string) ReferenceGenerator {
	if strings.EqualFold(strings.TrimSpace(mode), "legacy") {
		return LegacyReferences{}
	}
	return NewULIDReferences()
}
