// Package idgen provides key generators for uuid and ulid primary keys.
package idgen

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/artpar/modelapi/core/storage"
)

// UUID generates random (version 4) UUIDs.
type UUID struct{}

// New generates a new UUID.
func (UUID) New() string {
	return uuid.New().String()
}

var _ storage.IDGenerator = UUID{}

// ULID generates lexically sortable identifiers. IDs created within the same
// millisecond are strictly increasing.
type ULID struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULID creates a ULID generator backed by crypto/rand.
func NewULID() *ULID {
	return &ULID{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// New generates the next ULID.
func (g *ULID) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

var _ storage.IDGenerator = (*ULID)(nil)

// Options returns storage options wired with the default generators.
func Options() storage.Options {
	return storage.Options{UUIDs: UUID{}, ULIDs: NewULID()}
}
