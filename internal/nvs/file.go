package nvs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/atomicfile"
	"github.com/muurk/sensornode/internal/logging"
)

const (
	fileMagic   = "SNVS"
	fileVersion = 1
	sumSize     = 32
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("nvs: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxMapPairs: 4096,
	}.DecMode()
	if err != nil {
		panic("nvs: CBOR decoder initialization failed: " + err.Error())
	}
}

// image is the on-disk body of a namespace file.
type image struct {
	Version   uint8  `cbor:"v"`
	Namespace string `cbor:"n"`
	Entries   table  `cbor:"e"`
}

// FileStore persists one namespace to a file.
//
// Layout: "SNVS" magic, CBOR image, 32-byte BLAKE3 digest of magic+image.
type FileStore struct {
	mu        sync.Mutex
	path      string
	namespace string
	staged    table
	committed table
	corrupted bool
}

// OpenFile opens the namespace file at path, creating its directory if
// needed. A missing file yields an empty store. A file that fails its
// checksum or cannot be decoded also yields an empty store and is reported by
// Corrupted; the damaged file is kept aside with a .corrupt suffix.
func OpenFile(path, namespace string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		path:      path,
		namespace: namespace,
		staged:    make(table),
		committed: make(table),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("NVS file not found, starting empty", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	entries, err := decodeImage(data, namespace)
	if err != nil {
		logging.Warn("NVS file failed integrity check, starting empty",
			zap.String("path", path),
			zap.Error(err),
		)
		if rerr := os.Rename(path, path+".corrupt"); rerr != nil {
			logging.Warn("Failed to set corrupt NVS file aside", zap.Error(rerr))
		}
		s.corrupted = true
		return s, nil
	}

	s.staged = entries
	s.committed = entries.clone()
	return s, nil
}

func decodeImage(data []byte, namespace string) (table, error) {
	if len(data) < len(fileMagic)+sumSize {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrCorrupt, len(data))
	}
	if !bytes.Equal(data[:len(fileMagic)], []byte(fileMagic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	body := data[:len(data)-sumSize]
	want := data[len(data)-sumSize:]
	got := blake3.Sum256(body)
	if !bytes.Equal(got[:], want) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var img image
	if err := decMode.Unmarshal(body[len(fileMagic):], &img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if img.Version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, img.Version)
	}
	if img.Namespace != namespace {
		return nil, fmt.Errorf("%w: namespace %q, want %q", ErrCorrupt, img.Namespace, namespace)
	}
	if img.Entries == nil {
		img.Entries = make(table)
	}
	return img.Entries, nil
}

func encodeImage(entries table, namespace string) ([]byte, error) {
	body, err := encMode.Marshal(image{
		Version:   fileVersion,
		Namespace: namespace,
		Entries:   entries,
	})
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, len(fileMagic)+len(body)+sumSize)
	data = append(data, fileMagic...)
	data = append(data, body...)
	sum := blake3.Sum256(data)
	return append(data, sum[:]...), nil
}

// Corrupted reports whether the file failed its integrity check on open.
func (s *FileStore) Corrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrupted
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Keys implements Keys over the staged view.
func (s *FileStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.staged))
	for k := range s.staged {
		keys = append(keys, k)
	}
	return keys
}

func (s *FileStore) get(key string, kind Kind) (entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged.get(key, kind)
}

func (s *FileStore) set(key string, e entry) error {
	s.mu.Lock()
	s.staged[key] = e
	s.mu.Unlock()
	return nil
}

func (s *FileStore) GetU8(key string) (uint8, error) {
	e, err := s.get(key, KindU8)
	return uint8(e.Uint), err
}

func (s *FileStore) SetU8(key string, v uint8) error {
	return s.set(key, entry{Kind: KindU8, Uint: uint32(v)})
}

func (s *FileStore) GetI8(key string) (int8, error) {
	e, err := s.get(key, KindI8)
	return e.Int, err
}

func (s *FileStore) SetI8(key string, v int8) error {
	return s.set(key, entry{Kind: KindI8, Int: v})
}

func (s *FileStore) GetU32(key string) (uint32, error) {
	e, err := s.get(key, KindU32)
	return e.Uint, err
}

func (s *FileStore) SetU32(key string, v uint32) error {
	return s.set(key, entry{Kind: KindU32, Uint: v})
}

func (s *FileStore) GetString(key string) (string, error) {
	e, err := s.get(key, KindString)
	return e.Str, err
}

func (s *FileStore) SetString(key string, v string) error {
	return s.set(key, entry{Kind: KindString, Str: v})
}

func (s *FileStore) GetBlob(key string) ([]byte, error) {
	e, err := s.get(key, KindBlob)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Blob...), nil
}

func (s *FileStore) SetBlob(key string, v []byte) error {
	return s.set(key, entry{Kind: KindBlob, Blob: append([]byte(nil), v...)})
}

func (s *FileStore) Erase(key string) error {
	s.mu.Lock()
	delete(s.staged, key)
	s.mu.Unlock()
	return nil
}

func (s *FileStore) Discard(key string) error {
	s.mu.Lock()
	s.staged.restore(s.committed, key)
	s.mu.Unlock()
	return nil
}

// Commit writes the staged entries to disk. It is a no-op when nothing
// changed since the last commit.
func (s *FileStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged.equal(s.committed) {
		if _, err := os.Stat(s.path); err == nil {
			return nil
		}
	}

	data, err := encodeImage(s.staged, s.namespace)
	if err != nil {
		return fmt.Errorf("nvs commit: encode: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("nvs commit: %w", err)
	}

	s.committed = s.staged.clone()
	s.corrupted = false
	return nil
}
