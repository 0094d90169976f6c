package topic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/ledger/memledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
	"github.com/whistlenet/hcs-relay/internal/topic/store"
)

const operatorKeyHex = "65daa5b4616b0af96bea690f5c4afc0337a002bc7f5c3f2e28e575b9a253d31e"

func newTestManager(t *testing.T, s Store, opts ...func(*Config)) (*Manager, *memledger.Ledger) {
	t.Helper()
	l := memledger.New()
	op := ledger.Identity{Key: ledger.MustParsePrivateKey(operatorKeyHex)}
	op.Account = l.CreateAccount(op.Key, 100*100_000_000)

	cfg := Config{
		Connector: ledger.Connector{Provider: l, Operator: op, Log: logging.Discard()},
		Store:     s,
		Memo:      "whistleblower reports",
		Logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m, l
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{Store: store.NewMemory()})
	assert.Error(t, err)
	_, err = NewManager(Config{Connector: ledger.Connector{Provider: memledger.New()}})
	assert.Error(t, err)
}

func TestEnsureTopic_CacheHitSkipsLedger(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.Set(context.Background(), StorageKey, "0.0.4242"))
	m, l := newTestManager(t, s)

	id, err := m.EnsureTopic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.0.4242", id.String())
	assert.Equal(t, memledger.Calls{}, l.Calls())
}

func TestEnsureTopic_ColdStartCreatesAndCaches(t *testing.T) {
	s := store.NewMemory()
	m, l := newTestManager(t, s)
	ctx := context.Background()

	first, err := m.EnsureTopic(ctx)
	require.NoError(t, err)
	second, err := m.EnsureTopic(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, l.Calls().CreateTopic)
	assert.Equal(t, l.Calls().Open, l.Calls().Close)

	raw, found, err := s.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first.String(), raw)
}

func TestEnsureTopic_ConcurrentColdStartCreatesOnce(t *testing.T) {
	m, l := newTestManager(t, store.NewMemory())
	l.Latency = 20 * time.Millisecond

	const callers = 8
	ids := make([]ledger.TopicID, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = m.EnsureTopic(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, l.Calls().CreateTopic)
	assert.Len(t, l.Topics(), 1)
}

func TestEnsureTopic_CallerDeadlineDoesNotFailOthers(t *testing.T) {
	s := store.NewMemory()
	m, l := newTestManager(t, s)
	l.Latency = 200 * time.Millisecond

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	shortErr := make(chan error, 1)
	go func() {
		_, err := m.EnsureTopic(short)
		shortErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	id, err := m.EnsureTopic(context.Background())
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	err = <-shortErr
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 1, l.Calls().CreateTopic)
	raw, found, err := s.Get(context.Background(), StorageKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id.String(), raw)
}

func TestEnsureTopic_CreateTimeoutBoundsSharedCreation(t *testing.T) {
	s := store.NewMemory()
	m, l := newTestManager(t, s, func(c *Config) { c.CreateTimeout = 30 * time.Millisecond })
	l.Latency = 500 * time.Millisecond

	start := time.Now()
	_, err := m.EnsureTopic(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	_, found, _ := s.Get(context.Background(), StorageKey)
	assert.False(t, found)
}

func TestEnsureTopic_FailureCachesNothing(t *testing.T) {
	s := store.NewMemory()
	m, l := newTestManager(t, s)
	ctx := context.Background()

	l.FailNext(errors.New("dial tcp: connection refused"))
	_, err := m.EnsureTopic(ctx)
	require.Error(t, err)
	assert.True(t, svcerrors.IsConnectivity(err))

	_, found, _ := s.Get(ctx, StorageKey)
	assert.False(t, found)

	id, err := m.EnsureTopic(ctx)
	require.NoError(t, err)
	assert.False(t, id.IsZero())
}

func TestEnsureTopic_EmptyCachedValueIsReplaced(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, StorageKey, ""))
	m, l := newTestManager(t, s)

	id, err := m.EnsureTopic(ctx)
	require.NoError(t, err)
	raw, _, err := s.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.Equal(t, id.String(), raw)

	again, err := m.EnsureTopic(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, l.Calls().CreateTopic)
}

func TestEnsureTopic_MalformedCache(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.Set(context.Background(), StorageKey, "not-a-topic"))
	m, _ := newTestManager(t, s)

	_, err := m.EnsureTopic(context.Background())
	assert.True(t, svcerrors.IsDataShape(err))
}

// racingStore simulates another process winning the SetIfAbsent race.
type racingStore struct {
	*store.Memory
	winner string
}

func (r *racingStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

func (r *racingStore) SetIfAbsent(ctx context.Context, key, value string) (string, error) {
	_ = r.Memory.Set(ctx, key, r.winner)
	return r.Memory.SetIfAbsent(ctx, key, value)
}

func TestEnsureTopic_AdoptsConcurrentWinner(t *testing.T) {
	m, l := newTestManager(t, &racingStore{Memory: store.NewMemory(), winner: "0.0.9999"})

	id, err := m.EnsureTopic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.0.9999", id.String())
	assert.Equal(t, 1, l.Calls().CreateTopic)
}

// plainStore has no SetIfAbsent and fails every write.
type plainStore struct{ err error }

func (p plainStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (p plainStore) Set(context.Context, string, string) error        { return p.err }

func TestEnsureTopic_CacheWriteFailureStillReturnsTopic(t *testing.T) {
	m, l := newTestManager(t, plainStore{err: errors.New("disk full")})

	id, err := m.EnsureTopic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, l.Topics()[0], id)
}

func TestCreateTopic_AlwaysCreates(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.Set(context.Background(), StorageKey, "0.0.4242"))
	m, l := newTestManager(t, s)

	a, err := m.CreateTopic(context.Background())
	require.NoError(t, err)
	b, err := m.CreateTopic(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, a.TopicID, b.TopicID)
	assert.NotEqual(t, a.TransactionID, b.TransactionID)
	assert.Equal(t, ledger.StatusSuccess, a.Status)
	assert.Equal(t, ledger.DefaultExplorerBaseURL+a.TransactionID, a.HashscanURL)
	assert.Equal(t, 2, l.Calls().CreateTopic)

	cached, _, _ := s.Get(context.Background(), StorageKey)
	assert.Equal(t, "0.0.4242", cached)
}

func TestCreateTopic_LedgerRejection(t *testing.T) {
	m, l := newTestManager(t, store.NewMemory())
	l.FailNext(&ledger.StatusError{Status: "INSUFFICIENT_PAYER_BALANCE"})

	_, err := m.CreateTopic(context.Background())
	require.Error(t, err)
	assert.True(t, svcerrors.IsLedgerRejection(err))
	assert.Equal(t, l.Calls().Open, l.Calls().Close)
}

func TestCached(t *testing.T) {
	s := store.NewMemory()
	m, _ := newTestManager(t, s)

	_, ok, err := m.Cached(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(context.Background(), StorageKey, "0.0.77"))
	id, ok, err := m.Cached(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(77), id.Num)
}
