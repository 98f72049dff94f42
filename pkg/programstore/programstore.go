// Package programstore provides persistent, content-addressed storage for
// guppy programs.
package programstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/guppy/internal/types"
)

var (
	// ErrNotFound is returned when a program doesn't exist.
	ErrNotFound = errors.New("program not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("program store closed")

	// ErrEmptyProgram is returned when storing zero bytes.
	ErrEmptyProgram = errors.New("empty program")
)

// Bucket names for BoltDB.
var (
	// bucketPrograms stores program records keyed by id.
	bucketPrograms = []byte("programs")

	// bucketNames maps a program name to its id.
	bucketNames = []byte("names")

	// bucketMetadata stores store-wide counters.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyProgramCount = []byte("program_count")
	keyTotalBytes   = []byte("total_bytes")
)

// Config holds program store configuration options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
}

// DefaultConfig returns the default program store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: 5 * time.Second,
	}
}

// Record is a stored program.
type Record struct {
	ID      types.ProgramID
	Name    string
	Code    []byte
	Created time.Time
}

// Info describes a stored program without its code.
type Info struct {
	ID      types.ProgramID `json:"id"`
	Name    string          `json:"name,omitempty"`
	Size    int             `json:"size"`
	Created time.Time       `json:"created"`
}

// Stats contains program store statistics.
type Stats struct {
	// ProgramCount is the number of stored programs.
	ProgramCount uint64 `json:"programCount"`

	// TotalBytes is the sum of all program sizes.
	TotalBytes uint64 `json:"totalBytes"`

	// DatabaseSize is the size of the database file in bytes.
	DatabaseSize int64 `json:"databaseSize"`
}

// Store is a BoltDB-backed program registry. Programs are keyed by the
// blake3 hash of their bytes, so storing the same bytes twice is a no-op.
type Store struct {
	db     *bolt.DB
	config Config

	mu           sync.RWMutex
	programCount uint64
	totalBytes   uint64
	closed       bool
}

// Open creates or opens a program store at the given path.
func Open(config Config) (*Store, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, config: config}

	if !config.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	if err := s.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPrograms, bucketNames, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		if v := meta.Get(keyProgramCount); v != nil {
			s.programCount = decodeUint64(v)
		}
		if v := meta.Get(keyTotalBytes); v != nil {
			s.totalBytes = decodeUint64(v)
		}
		return nil
	})
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores code under its content id and returns the id. A non-empty name
// is bound to the id, replacing any previous binding of that name.
func (s *Store) Put(name string, code []byte) (types.ProgramID, error) {
	if err := s.checkOpen(); err != nil {
		return types.ProgramID{}, err
	}
	if len(code) == 0 {
		return types.ProgramID{}, ErrEmptyProgram
	}

	id := types.ComputeProgramID(code)
	rec := Record{ID: id, Name: name, Code: code, Created: time.Now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()

	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		programs := tx.Bucket(bucketPrograms)
		if existing := programs.Get(id[:]); existing != nil {
			prev, err := decodeRecord(existing)
			if err != nil {
				return err
			}
			rec.Created = prev.Created
			if name == "" {
				rec.Name = prev.Name
			}
		} else {
			added = true
		}

		data, err := encodeRecord(&rec)
		if err != nil {
			return err
		}
		if err := programs.Put(id[:], data); err != nil {
			return err
		}
		if name != "" {
			if err := tx.Bucket(bucketNames).Put([]byte(name), id[:]); err != nil {
				return err
			}
		}
		if !added {
			return nil
		}
		return putCounters(tx, s.programCount+1, s.totalBytes+uint64(len(code)))
	})
	if err != nil {
		return types.ProgramID{}, err
	}

	if added {
		s.programCount++
		s.totalBytes += uint64(len(code))
	}
	return id, nil
}

// Get retrieves a program by id.
func (s *Store) Get(id types.ProgramID) (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPrograms).Get(id[:])
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetByName retrieves the program currently bound to name.
func (s *Store) GetByName(name string) (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketNames).Get([]byte(name))
		if raw == nil {
			return fmt.Errorf("%w: name %q", ErrNotFound, name)
		}
		data := tx.Bucket(bucketPrograms).Get(raw)
		if data == nil {
			return fmt.Errorf("%w: name %q", ErrNotFound, name)
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Resolve accepts either a base58 program id or a bound name.
func (s *Store) Resolve(ref string) (*Record, error) {
	if id, err := types.ProgramIDFromBase58(ref); err == nil {
		rec, err := s.Get(id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return rec, err
		}
	}
	return s.GetByName(ref)
}

// Has reports whether a program exists.
func (s *Store) Has(id types.ProgramID) bool {
	if s.checkOpen() != nil {
		return false
	}
	var found bool
	s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketPrograms).Get(id[:]) != nil
		return nil
	})
	return found
}

// Delete removes a program and any names bound to it.
func (s *Store) Delete(id types.ProgramID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var size int
	err := s.db.Update(func(tx *bolt.Tx) error {
		programs := tx.Bucket(bucketPrograms)
		data := programs.Get(id[:])
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		size = len(rec.Code)
		if err := programs.Delete(id[:]); err != nil {
			return err
		}

		// Unbind every name pointing at this id.
		names := tx.Bucket(bucketNames)
		var stale [][]byte
		if err := names.ForEach(func(k, v []byte) error {
			if bytes.Equal(v, id[:]) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := names.Delete(k); err != nil {
				return err
			}
		}
		return putCounters(tx, s.programCount-1, s.totalBytes-uint64(size))
	})
	if err != nil {
		return err
	}

	s.programCount--
	s.totalBytes -= uint64(size)
	return nil
}

// List returns every stored program, newest first.
func (s *Store) List() ([]Info, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []Info
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrograms).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, Info{ID: rec.ID, Name: rec.Name, Size: len(rec.Code), Created: rec.Created})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

// Stats returns store statistics.
func (s *Store) Stats() (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	stats := &Stats{ProgramCount: s.programCount, TotalBytes: s.totalBytes}
	s.mu.RUnlock()

	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func putCounters(tx *bolt.Tx, count, total uint64) error {
	meta := tx.Bucket(bucketMetadata)
	if err := meta.Put(keyProgramCount, encodeUint64(count)); err != nil {
		return err
	}
	return meta.Put(keyTotalBytes, encodeUint64(total))
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode program: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	return &rec, nil
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
