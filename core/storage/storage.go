// Package storage is the persistence engine behind resources: reads by key,
// full-table reads, relation lookups and transactional writes over model
// instances.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/modelapi/core/model"
)

// ErrNotFound is returned when an update or delete matches no row.
var ErrNotFound = errors.New("not found")

// Store reads instances and opens write transactions.
type Store interface {
	// FetchAll returns every instance of m ordered by primary key.
	FetchAll(ctx context.Context, m *model.Model) ([]*model.Instance, error)

	// FetchByKey returns the instance with the given key, or nil when absent.
	FetchByKey(ctx context.Context, m *model.Model, key any) (*model.Instance, error)

	// FetchWhere returns the instances whose column equals value.
	FetchWhere(ctx context.Context, m *model.Model, column string, value any) ([]*model.Instance, error)

	// Begin opens a transaction. Writes become visible on Commit.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the store's resources.
	Close() error
}

// Tx is a unit of work. Exactly one of Commit or Rollback must be called;
// Rollback after Commit is a no-op.
type Tx interface {
	// Insert persists a new instance and assigns its generated key.
	Insert(ctx context.Context, inst *model.Instance) error
	Update(ctx context.Context, inst *model.Instance) error
	Delete(ctx context.Context, inst *model.Instance) error
	Commit() error
	Rollback() error
}

// Migrator is implemented by stores that can create missing tables.
// Existing tables are never altered.
type Migrator interface {
	EnsureTable(ctx context.Context, m *model.Model) error
}

// IDGenerator produces keys for uuid and ulid primary key columns.
type IDGenerator interface {
	New() string
}

// Options configures a store.
type Options struct {
	UUIDs IDGenerator
	ULIDs IDGenerator
}

// generateKey fills in the primary key of inst when its column is a
// generated uuid or ulid key and no value was supplied.
func (o Options) generateKey(inst *model.Instance) error {
	pk := inst.Model.PrimaryKey()
	if pk == nil {
		return fmt.Errorf("model %s has no primary key", inst.Model.Table)
	}
	if inst.Key() != nil {
		return nil
	}

	var gen IDGenerator
	switch pk.Type {
	case model.TypeUUID:
		gen = o.UUIDs
	case model.TypeULID:
		gen = o.ULIDs
	default:
		return nil
	}
	if gen == nil {
		return fmt.Errorf("no %s generator configured for %s.%s", pk.Type, inst.Model.Table, pk.Name)
	}
	inst.SetKey(gen.New())
	return nil
}

// WithTx runs fn inside a transaction, committing when fn succeeds and
// rolling back otherwise.
func WithTx(ctx context.Context, s Store, fn func(Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
