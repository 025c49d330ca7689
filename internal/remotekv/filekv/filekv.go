// Package filekv contains an implementation of [remotekv.Interface] that
// keeps data in a single local file, rewritten atomically on every update.
package filekv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/amberdns/amberdns/internal/remotekv"
	renameio "github.com/google/renameio/v2"
)

// FileKV is a file-based implementation of the [remotekv.Interface]
// interface.  It is safe for concurrent use.
type FileKV struct {
	// mu protects the file from concurrent read-modify-write cycles.
	mu   *sync.Mutex
	path string
}

// FileKVConfig is the configuration for the file-based [remotekv.Interface]
// implementation.  All fields must not be empty.
type FileKVConfig struct {
	// Path is the path to the storage file.  The file does not have to exist,
	// but its directory must be writable.
	Path string
}

// NewFileKV returns a new *FileKV.  c must not be nil.
func NewFileKV(c *FileKVConfig) (kv *FileKV) {
	return &FileKV{
		mu:   &sync.Mutex{},
		path: c.Path,
	}
}

// type check
var _ remotekv.Interface = (*FileKV)(nil)

// Get implements the [remotekv.Interface] interface for *FileKV.
func (kv *FileKV) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	defer func() { err = errors.Annotate(err, "getting %q: %w", key) }()

	kv.mu.Lock()
	defer kv.mu.Unlock()

	data, err := kv.load()
	if err != nil {
		return nil, false, err
	}

	val, ok = data[key]

	return val, ok, nil
}

// Set implements the [remotekv.Interface] interface for *FileKV.
func (kv *FileKV) Set(ctx context.Context, key string, val []byte) (err error) {
	defer func() { err = errors.Annotate(err, "setting %q: %w", key) }()

	kv.mu.Lock()
	defer kv.mu.Unlock()

	data, err := kv.load()
	if err != nil {
		return err
	}

	data[key] = val

	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	err = renameio.WriteFile(kv.path, b, 0o600)
	if err != nil {
		return fmt.Errorf("writing: %w", err)
	}

	return nil
}

// load reads the storage file.  A missing file is not an error and results in
// an empty map.  kv.mu must be held.
func (kv *FileKV) load() (data map[string][]byte, err error) {
	b, err := os.ReadFile(kv.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]byte{}, nil
		}

		return nil, fmt.Errorf("reading: %w", err)
	}

	data = map[string][]byte{}
	err = json.Unmarshal(b, &data)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	return data, nil
}
