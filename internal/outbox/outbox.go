package outbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDir is the outbox location relative to the working directory.
	DefaultDir = "./store-and-forward"

	dirPerm  = 0o750
	filePerm = 0o640

	// tempPrefix marks in-progress writes; List never returns them.
	tempPrefix = ".tmp-"
)

var (
	// ErrStorageFault is returned when the outbox directory or an entry
	// cannot be written, read or removed.
	ErrStorageFault = errors.New("outbox: storage fault")

	// ErrInvalidKey is returned for keys that cannot be used as a file name.
	ErrInvalidKey = errors.New("outbox: invalid key")
)

// Entry is one undelivered record awaiting forwarding.
type Entry struct {
	// Key is the record key, also the file name.
	Key string
	// Payload is the serialized record.
	Payload []byte
}

// Store is a directory of undelivered records, one file per key.
//
// Writes are atomic: a temp file is written, synced and renamed over the
// final name, so a crash never leaves a partially written entry behind and
// storing the same key twice leaves exactly one entry.
//
// Store holds no in-memory state and is safe for concurrent use, including
// by several processes sharing the directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created on first Store.
func New(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{dir: dir}
}

// Store persists e. An existing entry with the same key is replaced.
func (s *Store) Store(ctx context.Context, e Entry) error {
	if err := validateKey(e.Key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFault, err)
	}

	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrStorageFault, s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+e.Key+"-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrStorageFault, err)
	}
	tmpName := tmp.Name()

	if err := writeAndSync(tmp, e.Payload); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // best-effort cleanup
		return fmt.Errorf("%w: writing %s: %w", ErrStorageFault, e.Key, err)
	}

	if err := os.Rename(tmpName, s.path(e.Key)); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // best-effort cleanup
		return fmt.Errorf("%w: renaming %s: %w", ErrStorageFault, e.Key, err)
	}

	syncDir(s.dir)
	return nil
}

func writeAndSync(f *os.File, payload []byte) error {
	if err := f.Chmod(filePerm); err != nil {
		f.Close() //nolint:errcheck,gosec // already failing
		return err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close() //nolint:errcheck,gosec // already failing
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck,gosec // already failing
		return err
	}
	return f.Close()
}

// syncDir makes the rename durable. Not all platforms support syncing a
// directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // dir comes from config
	if err != nil {
		return
	}
	d.Sync()  //nolint:errcheck,gosec // see above
	d.Close() //nolint:errcheck,gosec // read-only handle
}

// Remove deletes the entry for key. Removing a missing entry is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFault, err)
	}

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %w", ErrStorageFault, key, err)
	}
	return nil
}

// List yields the entries present when List is called. File contents are
// read lazily as the sequence is consumed. Entries removed in the meantime
// are skipped. A read failure yields a zero Entry with an error and
// iteration continues while the consumer keeps ranging.
//
// A missing directory yields nothing.
func (s *Store) List(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		keys, err := s.keys()
		if err != nil {
			yield(Entry{}, err)
			return
		}

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, fmt.Errorf("%w: %w", ErrStorageFault, err))
				return
			}

			payload, err := os.ReadFile(s.path(key))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				if !yield(Entry{Key: key}, fmt.Errorf("%w: reading %s: %w", ErrStorageFault, key, err)) {
					return
				}
				continue
			}

			if !yield(Entry{Key: key, Payload: payload}, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFault, err)
	}
	keys, err := s.keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// keys snapshots the entry names, sorted by file name.
func (s *Store) keys() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %w", ErrStorageFault, s.dir, err)
	}

	keys := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		keys = append(keys, de.Name())
	}
	return keys, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key)
}

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.HasPrefix(key, ".") ||
		strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
