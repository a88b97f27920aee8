package publisher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "familyledger/pkg/domain"
	audit "familyledger/pkg/platform/audit"
	"familyledger/pkg/platform/audit/store/memory"
	"familyledger/pkg/requestcontext"
)

// lockedBuffer lets the fallback logger be written from the worker goroutine
// while the test reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Lines() int {
	return strings.Count(b.String(), "\n")
}

func fallbackLogger() (*slog.Logger, *lockedBuffer) {
	buf := &lockedBuffer{}
	return slog.New(slog.NewJSONHandler(buf, nil)), buf
}

// failingStore rejects every write and counts attempts.
type failingStore struct {
	audit.Store
	attempts atomic.Int32
}

func (f *failingStore) Append(context.Context, audit.Entry) error {
	f.attempts.Add(1)
	return errors.New("database is locked")
}

// blockingStore holds the first write until released.
type blockingStore struct {
	*memory.InMemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) Append(ctx context.Context, e audit.Entry) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.InMemoryStore.Append(ctx, e)
}

func actionEntry(tenant id.TenantID, msg string) audit.Entry {
	return audit.Entry{
		TenantID: tenant,
		Level:    audit.LevelAction,
		Message:  msg,
		Origin:   "TransactionService",
		Context:  map[string]any{"amount": audit.Redacted},
	}
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close(context.Background())

	pub.Append(context.Background(), actionEntry("family-a", "Transaction Added"))

	entries, err := pub.Query(context.Background(), "family-a", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Transaction Added", entries[0].Message)
	assert.Equal(t, audit.Redacted, entries[0].Context["amount"])
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close(context.Background())

	pub.Append(context.Background(), actionEntry("family-a", "Transaction Added"))

	require.Eventually(t, func() bool {
		entries, err := store.ListRecent(context.Background(), "family-a", 10)
		return err == nil && len(entries) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		pub.Append(context.Background(), actionEntry("family-a", "Transaction Added"))
	}
	require.NoError(t, pub.Close(context.Background()))

	entries, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 10, "all entries should be drained on close")
}

func TestPublisher_BufferFullEscalates(t *testing.T) {
	store := &blockingStore{
		InMemoryStore: memory.NewInMemoryStore(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	logger, buf := fallbackLogger()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pub := NewPublisher(store, WithAsyncBuffer(1), WithFallbackLogger(logger), WithMetrics(metrics))

	ctx := context.Background()
	pub.Append(ctx, actionEntry("family-a", "first"))
	<-store.entered // worker holds "first"
	pub.Append(ctx, actionEntry("family-a", "second"))
	pub.Append(ctx, actionEntry("family-a", "third"))

	assert.Contains(t, buf.String(), `"reason":"buffer_full"`)
	assert.Contains(t, buf.String(), `"message":"third"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Fallbacks.WithLabelValues(reasonBufferFull)))

	close(store.release)
	require.NoError(t, pub.Close(ctx))

	entries, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPublisher_StoreFailureReachesFallback(t *testing.T) {
	logger, buf := fallbackLogger()
	store := &failingStore{}
	pub := NewPublisher(store, WithFallbackLogger(logger))

	entry := actionEntry("family-a", "Transaction Deleted")
	entry.UserID = "ana"
	pub.Append(context.Background(), entry)

	out := buf.String()
	assert.Contains(t, out, `"code":"audit_delivery_failed"`)
	assert.Contains(t, out, `"reason":"store_error"`)
	assert.Contains(t, out, `"message":"Transaction Deleted"`)
	assert.Contains(t, out, `"amount":"***"`)
	assert.Contains(t, out, "database is locked")
	assert.Contains(t, out, `"user_id":"ana"`)
}

func TestPublisher_CircuitBreakerSkipsStore(t *testing.T) {
	logger, buf := fallbackLogger()
	store := &failingStore{}
	metrics := NewMetrics(prometheus.NewRegistry())
	pub := NewPublisher(store,
		WithFallbackLogger(logger),
		WithCircuitBreaker(NewCircuitBreaker(2, time.Hour)),
		WithMetrics(metrics),
	)

	for range 5 {
		pub.Append(context.Background(), actionEntry("family-a", "Transaction Added"))
	}

	assert.EqualValues(t, 2, store.attempts.Load())
	assert.Equal(t, 5, buf.Lines(), "every entry reaches the fallback channel")
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Fallbacks.WithLabelValues(reasonCircuitOpen)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CircuitBreakerState))
}

func TestPublisher_AfterCloseEscalates(t *testing.T) {
	logger, buf := fallbackLogger()
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(4), WithFallbackLogger(logger))
	require.NoError(t, pub.Close(context.Background()))
	require.NoError(t, pub.Close(context.Background()), "close is idempotent")

	pub.Append(context.Background(), actionEntry("family-a", "late"))

	assert.Contains(t, buf.String(), `"reason":"publisher_closed"`)
	entries, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublisher_Timestamps(t *testing.T) {
	fixed := time.Date(2024, time.March, 3, 10, 0, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))

	pub.Append(context.Background(), actionEntry("family-a", "unset"))

	earlier := fixed.Add(-time.Hour)
	preset := actionEntry("family-a", "preset")
	preset.Timestamp = earlier
	pub.Append(context.Background(), preset)

	entries, err := pub.Query(context.Background(), "family-a", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "unset", entries[0].Message)
	assert.True(t, entries[0].Timestamp.Equal(fixed))
	assert.True(t, entries[1].Timestamp.Equal(earlier))
}

func TestPublisher_CarriesRequestID(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	ctx := requestcontext.WithRequestID(context.Background(), "req-123")
	pub.Append(ctx, actionEntry("family-a", "Transaction Added"))

	entries, err := pub.Query(ctx, "family-a", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-123", entries[0].RequestID)
}

func TestPublisher_QueryScopesAndClamps(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	ctx := context.Background()

	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := range 1200 {
		e := actionEntry("family-a", "a")
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		pub.Append(ctx, e)
	}
	pub.Append(ctx, actionEntry("family-b", "b"))

	entries, err := pub.Query(ctx, "family-a", 0)
	require.NoError(t, err)
	assert.Len(t, entries, audit.DefaultQueryLimit)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp), "most recent first")

	entries, err = pub.Query(ctx, "family-a", 5000)
	require.NoError(t, err)
	assert.Len(t, entries, audit.MaxQueryLimit)

	entries, err = pub.Query(ctx, "family-b", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id.TenantID("family-b"), entries[0].TenantID)
}

func TestPublisher_ConcurrentAppendAndClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	logger, _ := fallbackLogger()
	pub := NewPublisher(store, WithAsyncBuffer(8), WithFallbackLogger(logger))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Append(context.Background(), actionEntry("family-a", "x"))
		}()
	}
	require.NoError(t, pub.Close(context.Background()))
	wg.Wait()
}
