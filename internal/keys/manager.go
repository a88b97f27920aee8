// Package keys owns the installation's single symmetric data key: generation,
// export to a durable slot, and re-import on later runs.
package keys

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	dErrors "familyledger/pkg/domain-errors"
	"familyledger/pkg/platform/sentinel"
)

// GenerationGuard runs before a new key is minted. Returning an error aborts
// generation; the manager reports it as CodeKeyUnavailable.
type GenerationGuard func(ctx context.Context) error

// Manager hands out the installation key. The first call loads or creates
// it; later calls return the cached value.
type Manager struct {
	store   Store
	random  io.Reader
	guard   GenerationGuard
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	cached Key
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithRandom overrides the entropy source used for key generation.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		m.random = r
	}
}

func WithGenerationGuard(guard GenerationGuard) Option {
	return func(m *Manager) {
		m.guard = guard
	}
}

// GuardNoCiphertext refuses generation while count reports existing encrypted
// rows. A fresh key could never open them.
func GuardNoCiphertext(count func(ctx context.Context) (int64, error)) GenerationGuard {
	return func(ctx context.Context) error {
		n, err := count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return dErrors.New(dErrors.CodeKeyUnavailable,
				"key slot is empty but encrypted records exist; refusing to generate a new key")
		}
		return nil
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// GetKey returns the installation key, generating and persisting it on first
// use. Concurrent first calls in one process produce exactly one key.
func (m *Manager) GetKey(ctx context.Context) (Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cached.IsZero() {
		return m.cached, nil
	}

	key, err := m.loadOrCreate(ctx)
	if err != nil {
		return Key{}, err
	}
	m.cached = key
	return key, nil
}

func (m *Manager) loadOrCreate(ctx context.Context) (Key, error) {
	key, err := m.load(ctx)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Key{}, err
	}

	if m.guard != nil {
		if err := m.guard(ctx); err != nil {
			m.metrics.incFailure("guard")
			m.logger.ErrorContext(ctx, "key generation refused", "error", err)
			if dErrors.HasCode(err, dErrors.CodeKeyUnavailable) {
				return Key{}, err
			}
			return Key{}, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "check existing ciphertext")
		}
	}

	key, err = Generate(m.random)
	if err != nil {
		m.metrics.incFailure("generate")
		return Key{}, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "generate key")
	}
	exported, err := Export(key)
	if err != nil {
		m.metrics.incFailure("export")
		return Key{}, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "export key")
	}

	err = m.store.Create(ctx, exported)
	switch {
	case err == nil:
		m.metrics.incGenerated()
		m.logger.InfoContext(ctx, "installation key generated")
		return key, nil
	case errors.Is(err, sentinel.ErrConflict):
		// Another process published first; its key wins.
		m.logger.InfoContext(ctx, "installation key published concurrently, loading it")
		key, err := m.load(ctx)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return Key{}, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "key vanished after conflict")
			}
			return Key{}, err
		}
		return key, nil
	default:
		m.metrics.incFailure("persist")
		return Key{}, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "persist key")
	}
}

// load returns sentinel.ErrNotFound untouched; every other failure is coded.
func (m *Manager) load(ctx context.Context) (Key, error) {
	data, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Key{}, err
		}
		m.metrics.incFailure("load")
		m.logger.ErrorContext(ctx, "failed to read installation key", "error", err)
		return Key{}, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "load key")
	}
	key, err := Import(data)
	if err != nil {
		m.metrics.incFailure("import")
		m.logger.ErrorContext(ctx, "failed to import installation key", "error", err)
		return Key{}, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "import key")
	}
	m.metrics.incLoaded()
	return key, nil
}
