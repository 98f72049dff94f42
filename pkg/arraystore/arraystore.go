// Package arraystore provides BadgerDB-backed storage for named float32
// arrays, the inputs and outputs of kernel launches.
package arraystore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/guppy/internal/types"
)

var (
	// ErrNotFound is returned when an array doesn't exist.
	ErrNotFound = errors.New("array not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("array store closed")

	// ErrChecksumMismatch is returned when a stored payload fails its digest.
	ErrChecksumMismatch = errors.New("array checksum mismatch")

	// ErrInvalidName is returned for empty array names.
	ErrInvalidName = errors.New("invalid array name")

	// ErrCorrupt is returned when a stored value cannot be parsed.
	ErrCorrupt = errors.New("corrupt array record")
)

// Key prefixes for BadgerDB storage.
var (
	// prefixArray is the prefix for array payloads.
	// Key format: prefixArray + name
	prefixArray = []byte{0x01}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x02}

	metaArraysCount = append(append([]byte(nil), prefixMeta...), []byte("count")...)
)

// headerSize is digest (32) + element count (uint32 LE).
const headerSize = types.DigestSize + 4

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		NumCompactors:    2,
		ValueLogFileSize: 64 << 20,
	}
}

// Info describes a stored array without its data.
type Info struct {
	Name   string       `json:"name"`
	Len    int          `json:"len"`
	Digest types.Digest `json:"digest"`
}

// BadgerDB stores arrays as
//
//	sha3-256(raw) | len uint32 LE | zstd(raw)
//
// where raw is the array as little-endian float32. The digest is checked on
// every read.
type BadgerDB struct {
	db *badger.DB

	enc *zstd.Encoder
	dec *zstd.Decoder

	arraysCount atomic.Uint64

	// mu serialises writes so the count stays exact.
	mu sync.Mutex

	closed atomic.Bool
}

// NewBadgerDB opens an array store.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	b := &BadgerDB{db: db, enc: enc, dec: dec}
	if err := b.loadMetadata(); err != nil {
		b.closeCodecs()
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return b, nil
}

func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaArraysCount)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				b.arraysCount.Store(binary.LittleEndian.Uint64(val))
			}
			return nil
		})
	})
}

func arrayKey(name string) []byte {
	key := make([]byte, 0, len(prefixArray)+len(name))
	key = append(key, prefixArray...)
	return append(key, name...)
}

// GetArray retrieves an array by name.
func (b *BadgerDB) GetArray(name string) ([]float32, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var out []float32
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(arrayKey(name))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			out, err = b.decode(name, val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetArray stores data under name, replacing any previous value.
func (b *BadgerDB) SetArray(name string, data []float32) (types.Digest, error) {
	if b.closed.Load() {
		return types.Digest{}, ErrClosed
	}
	if name == "" {
		return types.Digest{}, ErrInvalidName
	}

	raw := EncodeFloats(data)
	digest := types.ComputeDigest(raw)
	val := make([]byte, headerSize, headerSize+len(raw)/2)
	copy(val, digest[:])
	binary.LittleEndian.PutUint32(val[types.DigestSize:], uint32(len(data)))
	if len(raw) > 0 {
		val = b.enc.EncodeAll(raw, val)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasLocked(name)
	if err != nil {
		return types.Digest{}, err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(arrayKey(name), val); err != nil {
			return err
		}
		if exists {
			return nil
		}
		return txn.Set(metaArraysCount, countBytes(b.arraysCount.Load()+1))
	})
	if err != nil {
		return types.Digest{}, err
	}
	if !exists {
		b.arraysCount.Add(1)
	}
	return digest, nil
}

// DeleteArray removes an array. Deleting a missing array is not an error.
func (b *BadgerDB) DeleteArray(name string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasLocked(name)
	if err != nil || !exists {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(arrayKey(name)); err != nil {
			return err
		}
		return txn.Set(metaArraysCount, countBytes(b.arraysCount.Load()-1))
	})
	if err != nil {
		return err
	}
	b.arraysCount.Add(^uint64(0))
	return nil
}

// HasArray checks if an array exists.
func (b *BadgerDB) HasArray(name string) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	return b.hasLocked(name)
}

func (b *BadgerDB) hasLocked(name string) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(arrayKey(name))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// ArraysCount returns the number of stored arrays.
func (b *BadgerDB) ArraysCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.arraysCount.Load(), nil
}

// IterateArrays visits every array header in name order without decoding
// payloads. Return an error from fn to stop iteration.
func (b *BadgerDB) IterateArrays(fn func(info Info) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixArray
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(bytes.TrimPrefix(item.Key(), prefixArray))

			var info Info
			err := item.Value(func(val []byte) error {
				if len(val) < headerSize {
					return fmt.Errorf("%w: %q", ErrCorrupt, name)
				}
				copy(info.Digest[:], val)
				info.Len = int(binary.LittleEndian.Uint32(val[types.DigestSize:]))
				return nil
			})
			if err != nil {
				return err
			}
			info.Name = name
			if err := fn(info); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.closeCodecs()
	return b.db.Close()
}

func (b *BadgerDB) closeCodecs() {
	b.enc.Close()
	b.dec.Close()
}

func (b *BadgerDB) decode(name string, val []byte) ([]float32, error) {
	if len(val) < headerSize {
		return nil, fmt.Errorf("%w: %q", ErrCorrupt, name)
	}
	var want types.Digest
	copy(want[:], val)
	n := int(binary.LittleEndian.Uint32(val[types.DigestSize:]))

	var raw []byte
	if body := val[headerSize:]; len(body) > 0 {
		var err error
		raw, err = b.dec.DecodeAll(body, make([]byte, 0, 4*n))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrCorrupt, name, err)
		}
	}
	if types.ComputeDigest(raw) != want {
		return nil, fmt.Errorf("%w: %q", ErrChecksumMismatch, name)
	}
	if len(raw) != 4*n {
		return nil, fmt.Errorf("%w: %q holds %d bytes, want %d", ErrCorrupt, name, len(raw), 4*n)
	}
	return DecodeFloats(raw)
}

func countBytes(n uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, n)
}
