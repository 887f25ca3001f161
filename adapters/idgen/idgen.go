// Package idgen provides ID generation implementations.
package idgen

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/artpar/netbill/ports"
	"github.com/google/uuid"
)

// UUID generates record ids.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.New().String()
}

// Account generates short, human-readable subscriber account numbers
// such as "NB-3F9A12C04B7E".
type Account struct {
	Prefix string
}

// New returns Prefix followed by 12 upper-case hex characters of a fresh UUID.
func (a Account) New() string {
	id := uuid.New()
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return a.Prefix + hex[:12]
}

// Sequential generates sequential IDs (for testing).
type Sequential struct {
	prefix  string
	counter uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	n := atomic.AddUint64(&s.counter, 1)
	return s.prefix + strconv.FormatUint(n, 10)
}

// Ensure interface compliance.
var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = Account{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
