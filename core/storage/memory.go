package storage

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/artpar/modelapi/core/model"
)

// Memory is an in-memory Store. Transactions buffer their writes and apply
// them atomically on Commit.
type Memory struct {
	mu     sync.RWMutex
	opts   Options
	tables map[string]*memTable
}

type memTable struct {
	rows map[any]map[string]any
	seq  int64
}

func (t *memTable) clone() *memTable {
	rows := make(map[any]map[string]any, len(t.rows))
	for k, v := range t.rows {
		rows[k] = v
	}
	return &memTable{rows: rows, seq: t.seq}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:   opts,
		tables: make(map[string]*memTable),
	}
}

// EnsureTable implements Migrator.
func (s *Memory) EnsureTable(_ context.Context, m *model.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(m.Table)
	return nil
}

// table returns the named table, creating it. Callers hold the write lock.
func (s *Memory) table(name string) *memTable {
	t, ok := s.tables[name]
	if !ok {
		t = &memTable{rows: make(map[any]map[string]any)}
		s.tables[name] = t
	}
	return t
}

func normalizeKey(m *model.Model, key any) (any, error) {
	pk := m.PrimaryKey()
	if pk == nil {
		return nil, fmt.Errorf("model %s has no primary key", m.Table)
	}
	k, err := pk.Type.Kind().Deserialize(key)
	if err != nil {
		return nil, fmt.Errorf("key %v: %w", key, err)
	}
	return k, nil
}

func compareKeys(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func (s *Memory) rows(m *model.Model, match func(map[string]any) bool) []*model.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[m.Table]
	if !ok {
		return []*model.Instance{}
	}
	keys := slices.SortedFunc(maps.Keys(t.rows), compareKeys)

	out := make([]*model.Instance, 0, len(keys))
	for _, k := range keys {
		row := t.rows[k]
		if match != nil && !match(row) {
			continue
		}
		out = append(out, &model.Instance{Model: m, Values: maps.Clone(row)})
	}
	return out
}

// FetchAll implements Store.
func (s *Memory) FetchAll(_ context.Context, m *model.Model) ([]*model.Instance, error) {
	return s.rows(m, nil), nil
}

// FetchWhere implements Store.
func (s *Memory) FetchWhere(_ context.Context, m *model.Model, column string, value any) ([]*model.Instance, error) {
	return s.rows(m, func(row map[string]any) bool {
		return reflect.DeepEqual(row[column], value)
	}), nil
}

// FetchByKey implements Store.
func (s *Memory) FetchByKey(_ context.Context, m *model.Model, key any) (*model.Instance, error) {
	k, err := normalizeKey(m, key)
	if err != nil {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[m.Table]
	if !ok {
		return nil, nil
	}
	row, ok := t.rows[k]
	if !ok {
		return nil, nil
	}
	return &model.Instance{Model: m, Values: maps.Clone(row)}, nil
}

// Begin implements Store.
func (s *Memory) Begin(_ context.Context) (Tx, error) {
	return &memTx{store: s}, nil
}

// Close implements Store.
func (s *Memory) Close() error { return nil }

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

type memOp struct {
	kind  opKind
	table string
	key   any
	row   map[string]any
}

type memTx struct {
	store *Memory
	ops   []memOp
	done  bool
}

func (tx *memTx) check() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	return nil
}

func (tx *memTx) Insert(_ context.Context, inst *model.Instance) error {
	if err := tx.check(); err != nil {
		return err
	}
	if err := tx.store.opts.generateKey(inst); err != nil {
		return err
	}

	if pk := inst.Model.PrimaryKey(); pk.Type == model.TypeInteger && inst.Key() == nil {
		tx.store.mu.Lock()
		t := tx.store.table(inst.Model.Table)
		t.seq++
		inst.SetKey(t.seq)
		tx.store.mu.Unlock()
	}

	key, err := normalizeKey(inst.Model, inst.Key())
	if err != nil || key == nil {
		return fmt.Errorf("insert %s: invalid key %v", inst.Model.Table, inst.Key())
	}
	inst.SetKey(key)

	tx.ops = append(tx.ops, memOp{kind: opInsert, table: inst.Model.Table, key: key, row: maps.Clone(inst.Values)})
	return nil
}

func (tx *memTx) write(kind opKind, inst *model.Instance) error {
	if err := tx.check(); err != nil {
		return err
	}
	key, err := normalizeKey(inst.Model, inst.Key())
	if err != nil || key == nil {
		return fmt.Errorf("%s: %w", inst.Model.Table, ErrNotFound)
	}
	tx.ops = append(tx.ops, memOp{kind: kind, table: inst.Model.Table, key: key, row: maps.Clone(inst.Values)})
	return nil
}

func (tx *memTx) Update(_ context.Context, inst *model.Instance) error {
	return tx.write(opUpdate, inst)
}

func (tx *memTx) Delete(_ context.Context, inst *model.Instance) error {
	return tx.write(opDelete, inst)
}

// Commit applies the buffered operations to copies of the touched tables and
// swaps them in only when every operation succeeded.
func (tx *memTx) Commit() error {
	if err := tx.check(); err != nil {
		return err
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]*memTable)
	for _, op := range tx.ops {
		t, ok := staged[op.table]
		if !ok {
			t = s.table(op.table).clone()
			staged[op.table] = t
		}

		_, exists := t.rows[op.key]
		switch op.kind {
		case opInsert:
			if exists {
				return fmt.Errorf("insert %s: duplicate key %v", op.table, op.key)
			}
			t.rows[op.key] = op.row
			if n, ok := op.key.(int64); ok && n > t.seq {
				t.seq = n
			}
		case opUpdate:
			if !exists {
				return fmt.Errorf("update %s %v: %w", op.table, op.key, ErrNotFound)
			}
			t.rows[op.key] = op.row
		case opDelete:
			if !exists {
				return fmt.Errorf("delete %s %v: %w", op.table, op.key, ErrNotFound)
			}
			delete(t.rows, op.key)
		}
	}

	maps.Copy(s.tables, staged)
	return nil
}

func (tx *memTx) Rollback() error {
	tx.done = true
	tx.ops = nil
	return nil
}
