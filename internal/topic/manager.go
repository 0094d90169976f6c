// Package topic ensures the relay has a consensus topic to anchor reports
// to, creating one on first use and remembering it in a durable store.
package topic

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
	"github.com/whistlenet/hcs-relay/internal/metrics"
)

// StorageKey is the key the topic id is cached under.
const StorageKey = "hcs_topic_id"

// DefaultCreateTimeout bounds a shared topic creation.
const DefaultCreateTimeout = 2 * time.Minute

// Store is the durable key-value capability the manager persists through.
// The manager makes no assumption about the medium behind it.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

// AtomicStore is a Store that can write a key only when it is unset and
// report the value that ended up stored. Stores shared between processes
// should implement it so concurrent cold starts converge on one topic.
type AtomicStore interface {
	Store
	SetIfAbsent(ctx context.Context, key, value string) (stored string, err error)
}

// Creation describes a newly created topic.
type Creation struct {
	TopicID       ledger.TopicID `json:"topicId"`
	TransactionID string         `json:"transactionId"`
	Status        string         `json:"status"`
	HashscanURL   string         `json:"hashscanUrl"`
}

// Config configures a Manager.
type Config struct {
	Connector ledger.Connector
	Store     Store
	// Key overrides StorageKey.
	Key string
	// Memo is attached to topics this manager creates.
	Memo string
	// CreateTimeout bounds the creation EnsureTopic shares between
	// callers. Defaults to DefaultCreateTimeout.
	CreateTimeout time.Duration
	Explorer      ledger.Explorer
	Logger        *logging.Logger
}

// Manager owns the topic lifecycle.
type Manager struct {
	conn     ledger.Connector
	store    Store
	key      string
	memo     string
	explorer ledger.Explorer
	log      *logging.Logger

	createTimeout time.Duration
	flight        singleflight.Group
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Connector.Provider == nil {
		return nil, fmt.Errorf("topic manager: ledger provider required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("topic manager: store required")
	}
	key := cfg.Key
	if key == "" {
		key = StorageKey
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("topic")
	}
	timeout := cfg.CreateTimeout
	if timeout <= 0 {
		timeout = DefaultCreateTimeout
	}
	return &Manager{
		conn:          cfg.Connector,
		store:         cfg.Store,
		key:           key,
		memo:          cfg.Memo,
		explorer:      cfg.Explorer,
		log:           log,
		createTimeout: timeout,
	}, nil
}

// Cached returns the stored topic id without touching the ledger.
func (m *Manager) Cached(ctx context.Context) (ledger.TopicID, bool, error) {
	raw, found, err := m.store.Get(ctx, m.key)
	if err != nil {
		return ledger.TopicID{}, false, fmt.Errorf("read cached topic: %w", err)
	}
	if !found || raw == "" {
		return ledger.TopicID{}, false, nil
	}
	id, err := ledger.ParseTopicID(raw)
	if err != nil {
		return ledger.TopicID{}, false, svcerrors.DataShape("cached topic id", err)
	}
	return id, true, nil
}

// EnsureTopic returns the cached topic, creating and caching one if none
// exists. A cache hit never reaches the ledger.
//
// Concurrent callers in this process share a single creation. It runs
// detached from any one caller's cancellation, bounded by CreateTimeout;
// a caller whose ctx ends stops waiting without failing the others.
// Across processes, an AtomicStore decides the winner and losers adopt its
// topic. Nothing is cached when creation fails, so the next call retries.
func (m *Manager) EnsureTopic(ctx context.Context) (ledger.TopicID, error) {
	id, ok, err := m.Cached(ctx)
	if err != nil {
		return ledger.TopicID{}, err
	}
	metrics.RecordTopicCache(ok)
	if ok {
		return id, nil
	}

	ch := m.flight.DoChan(m.key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.createTimeout)
		defer cancel()
		// Another flight may have finished between our read and now.
		if id, ok, err := m.Cached(fctx); err != nil || ok {
			return id, err
		}
		created, err := m.CreateTopic(fctx)
		if err != nil {
			return ledger.TopicID{}, err
		}
		return m.remember(fctx, created.TopicID), nil
	})
	select {
	case <-ctx.Done():
		return ledger.TopicID{}, fmt.Errorf("ensure topic: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return ledger.TopicID{}, res.Err
		}
		return res.Val.(ledger.TopicID), nil
	}
}

// remember persists id and returns the id callers should use from now on.
func (m *Manager) remember(ctx context.Context, id ledger.TopicID) ledger.TopicID {
	atomic, ok := m.store.(AtomicStore)
	if !ok {
		if err := m.store.Set(ctx, m.key, id.String()); err != nil {
			m.log.Error(ctx, "caching topic id failed", map[string]interface{}{
				"topic_id": id.String(),
				"error":    err.Error(),
			})
		}
		return id
	}

	stored, err := atomic.SetIfAbsent(ctx, m.key, id.String())
	if err != nil {
		m.log.Error(ctx, "caching topic id failed", map[string]interface{}{
			"topic_id": id.String(),
			"error":    err.Error(),
		})
		return id
	}
	if stored == id.String() {
		return id
	}
	winner, err := ledger.ParseTopicID(stored)
	if err != nil {
		m.log.Error(ctx, "cached topic id is malformed", map[string]interface{}{
			"stored": stored,
			"error":  err.Error(),
		})
		return id
	}
	m.log.Warn(ctx, "another instance created the topic first; adopting it", map[string]interface{}{
		"orphaned_topic_id": id.String(),
		"topic_id":          winner.String(),
	})
	return winner
}

// CreateTopic always creates a new topic. It does not touch the cache.
func (m *Manager) CreateTopic(ctx context.Context) (Creation, error) {
	start := time.Now()
	receipt, err := ledger.Do(ctx, m.conn, "create topic", func(s ledger.Session) (ledger.Receipt, error) {
		r, err := s.CreateTopic(ctx, m.memo)
		if err != nil {
			return r, ledger.Classify("create topic", err)
		}
		return r, nil
	})
	metrics.RecordLedgerOperation("create_topic", err, time.Since(start))
	if err != nil {
		m.log.Error(ctx, "creating topic failed", map[string]interface{}{"error": err.Error()})
		return Creation{}, err
	}
	if receipt.TopicID == nil {
		return Creation{}, svcerrors.DataShape("topic create receipt", fmt.Errorf("transaction %s: receipt has no topic id", receipt.TransactionID))
	}

	created := Creation{
		TopicID:       *receipt.TopicID,
		TransactionID: receipt.TransactionID,
		Status:        receipt.Status,
		HashscanURL:   m.explorer.TransactionURL(receipt.TransactionID),
	}
	m.log.Info(ctx, "topic created", map[string]interface{}{
		"topic_id":       created.TopicID.String(),
		"transaction_id": created.TransactionID,
		"status":         created.Status,
		"hashscan_url":   created.HashscanURL,
	})
	return created, nil
}
