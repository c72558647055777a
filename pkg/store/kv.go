package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// ErrNotFound is returned by a KV when the key has never been written.
var ErrNotFound = errors.New("key not found")

// KV is the synchronous key-value persistence the wallet store sits on.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileKV keeps one file per key in a directory. Writes go to a temporary
// file that is renamed over the target, so readers never see a partial value.
type FileKV struct {
	dir string
	mu  sync.Mutex
}

func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

func (kv *FileKV) path(key string) string {
	return filepath.Join(kv.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

func (kv *FileKV) Get(key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	data, err := os.ReadFile(kv.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (kv *FileKV) Set(key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	target := kv.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// MemoryKV is an in-process KV, used by tests and ephemeral sessions.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (kv *MemoryKV) Get(key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (kv *MemoryKV) Set(key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = append([]byte(nil), value...)
	return nil
}
