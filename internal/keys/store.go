package keys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"familyledger/pkg/platform/sentinel"
)

// Store is the durable scalar slot holding the exported key. It lives apart
// from the ledger.
//
// Load returns sentinel.ErrNotFound when the slot is empty. Create is an
// exclusive publish: it returns sentinel.ErrConflict when the slot was
// filled concurrently, so the caller can load the winner's key.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Create(ctx context.Context, exported []byte) error
}

// ageHeader prefixes every binary age file.
var ageHeader = []byte("age-encryption.org/v1\n")

// FileStore keeps the exported key in a single 0600 file. When a passphrase
// is configured the file is sealed with an age scrypt recipient.
type FileStore struct {
	path       string
	passphrase string
	workFactor int
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithPassphrase seals the key file with a passphrase-derived key.
func WithPassphrase(passphrase string) FileStoreOption {
	return func(s *FileStore) {
		s.passphrase = passphrase
	}
}

// WithScryptWorkFactor overrides age's default scrypt work factor (log2 N).
// Tests lower it; production keeps the default.
func WithScryptWorkFactor(logN int) FileStoreOption {
	return func(s *FileStore) {
		s.workFactor = logN
	}
}

func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{path: path}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if !bytes.HasPrefix(data, ageHeader) {
		return data, nil
	}
	if s.passphrase == "" {
		return nil, fmt.Errorf("key file is sealed and no passphrase is configured: %w", sentinel.ErrCorrupt)
	}
	return s.open(data)
}

func (s *FileStore) Create(_ context.Context, exported []byte) error {
	payload := exported
	if s.passphrase != "" {
		sealed, err := s.seal(exported)
		if err != nil {
			return err
		}
		payload = sealed
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp key file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp key file: %w", err)
	}

	// Link fails if the target exists, which makes publication exclusive
	// across processes sharing the data dir.
	if err := os.Link(tmpName, s.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("publish key file: %w", err)
	}
	return nil
}

func (s *FileStore) seal(data []byte) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("build scrypt recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("seal key file: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("seal key file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("seal key file: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *FileStore) open(data []byte) ([]byte, error) {
	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("build scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("unseal key file: %v: %w", err, sentinel.ErrCorrupt)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unseal key file: %v: %w", err, sentinel.ErrCorrupt)
	}
	return plain, nil
}

// MemoryStore is a process-local slot for tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
	err  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailWith makes every subsequent call return err. Pass nil to heal.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Put overwrites the slot, bypassing exclusivity. Used to simulate
// corruption or a pre-existing installation.
func (s *MemoryStore) Put(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
}

func (s *MemoryStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.data == nil {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemoryStore) Create(_ context.Context, exported []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.data != nil {
		return sentinel.ErrConflict
	}
	s.data = append([]byte(nil), exported...)
	return nil
}
