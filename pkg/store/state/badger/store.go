// Package badger provides a state.Store backed by BadgerDB.
//
// This is the persistent backend for production deployments: target
// records survive restarts and crashes (Badger is WAL-based). Records are
// stored as JSON under namespaced keys, which keeps the database
// debuggable at the cost of a few bytes per record - the write rate of a
// control plane makes that trade trivially cheap.
//
// Key schema:
//
//	target:<name> -> TargetRecord (JSON)
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittofab/pkg/store/state"
)

const targetKeyPrefix = "target:"

// BadgerStateStore implements state.Store on a Badger database.
type BadgerStateStore struct {
	db *badger.DB
}

// Options configures a BadgerStateStore.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database entirely in memory. Used by tests.
	InMemory bool
}

// NewBadgerStateStore opens (or creates) the database at opts.Path.
func NewBadgerStateStore(opts Options) (*BadgerStateStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerStateStore{db: db}, nil
}

func targetKey(name string) []byte {
	return []byte(targetKeyPrefix + name)
}

// SaveTarget writes rec, replacing any previous record with the same name.
func (s *BadgerStateStore) SaveTarget(_ context.Context, rec *state.TargetRecord) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("cannot save record without a target name")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize target record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(targetKey(rec.Name), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store target record %q: %w", rec.Name, err)
	}
	return nil
}

// LoadTarget reads the record for the named target.
func (s *BadgerStateStore) LoadTarget(_ context.Context, name string) (*state.TargetRecord, error) {
	var rec state.TargetRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(targetKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load target record %q: %w", name, err)
	}

	return &rec, nil
}

// DeleteTarget removes the named record.
func (s *BadgerStateStore) DeleteTarget(_ context.Context, name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		// Badger deletes blindly; check existence first so missing records
		// surface as ErrNotFound like the other backends.
		if _, err := txn.Get(targetKey(name)); err != nil {
			return err
		}
		return txn.Delete(targetKey(name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return state.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete target record %q: %w", name, err)
	}
	return nil
}

// ListTargets returns the names of all stored records, in key order.
func (s *BadgerStateStore) ListTargets(_ context.Context) ([]string, error) {
	var names []string

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix: []byte(targetKeyPrefix),
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			names = append(names, strings.TrimPrefix(key, targetKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list target records: %w", err)
	}

	return names, nil
}

// Close closes the underlying database.
func (s *BadgerStateStore) Close() error {
	return s.db.Close()
}
