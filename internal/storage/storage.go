package storage

import (
	"crypto/sha1"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const (
	pathPrefix = "path:"
	idPrefix   = "id:"
	pickPrefix = "pick:"
	seqKey     = "seq:ids"

	// conflicting registrations of the same path are retried this many times
	maxConflictRetries = 8
)

var pickcodeEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Record ties a remote path to the id and pickcode issued for it
type Record struct {
	ID       int64  `json:"id"`
	Path     string `json:"path"`
	Pickcode string `json:"pickcode"`
}

// IndexStore is the persistent registry of ids and pickcodes
type IndexStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

func New(dataDir string) (*IndexStore, error) {
	if dataDir == "" {
		dataDir = "./drivegateData"
	}

	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &IndexStore{
		db:  db,
		seq: seq,
	}, nil
}

func (s *IndexStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to release id sequence: %w", err)
	}
	return s.db.Close()
}

// Pickcode derives the pickcode for a path. It is stable across restarts.
func Pickcode(p string) string {
	sum := sha1.Sum([]byte(p))
	return pickcodeEncoding.EncodeToString(sum[:10])
}

// Register returns the record for path, issuing a new id on first sight.
func (s *IndexStore) Register(p string) (*Record, error) {
	for attempt := 0; ; attempt++ {
		rec, err := s.register(p)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", p, err)
		}
		return rec, nil
	}
}

func (s *IndexStore) register(p string) (*Record, error) {
	var rec *Record

	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getRecord(txn, pathPrefix+p)
		if err != nil {
			return err
		}
		if existing != nil {
			rec = existing
			return nil
		}

		next, err := s.seq.Next()
		if err != nil {
			return err
		}
		rec = &Record{
			ID:       int64(next) + 1,
			Path:     p,
			Pickcode: Pickcode(p),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		for _, key := range []string{
			pathPrefix + p,
			idPrefix + strconv.FormatInt(rec.ID, 10),
			pickPrefix + rec.Pickcode,
		} {
			if err := txn.Set([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})

	return rec, err
}

// LookupPath returns the record for path, or nil if none was issued.
func (s *IndexStore) LookupPath(p string) (*Record, error) {
	return s.lookup(pathPrefix + p)
}

// LookupID returns the record for id, or nil if none was issued.
func (s *IndexStore) LookupID(id int64) (*Record, error) {
	return s.lookup(idPrefix + strconv.FormatInt(id, 10))
}

// LookupPickcode returns the record for a pickcode, or nil if none was issued.
func (s *IndexStore) LookupPickcode(code string) (*Record, error) {
	return s.lookup(pickPrefix + strings.ToLower(code))
}

func (s *IndexStore) lookup(key string) (*Record, error) {
	var rec *Record

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return rec, nil
}

func getRecord(txn *badger.Txn, key string) (*Record, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &Record{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *IndexStore) RunGarbageCollection() error {
	return s.db.RunValueLogGC(0.5)
}

// CountRecords returns the number of registered paths.
func (s *IndexStore) CountRecords() (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // We only need to count, not read values
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(pathPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			count++
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	return count, nil
}
