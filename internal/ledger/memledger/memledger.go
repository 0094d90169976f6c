// Package memledger is an in-process ledger with the same observable
// behaviour the relay relies on from the real network: topics, ordered
// messages, token balances, multi-signature transfers that settle
// atomically, and per-transaction receipts.
//
// It backs the test suites and the "memory" network used for local runs.
package memledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/whistlenet/hcs-relay/internal/ledger"
)

// Ledger statuses reproduced from the real network.
const (
	StatusInvalidAccountID         = "INVALID_ACCOUNT_ID"
	StatusInvalidTokenID           = "INVALID_TOKEN_ID"
	StatusInvalidTopicID           = "INVALID_TOPIC_ID"
	StatusInvalidSignature         = "INVALID_SIGNATURE"
	StatusInsufficientTokenBalance = "INSUFFICIENT_TOKEN_BALANCE"
	StatusTokenNotAssociated       = "TOKEN_NOT_ASSOCIATED_TO_ACCOUNT"
	StatusAccountFrozenForToken    = "ACCOUNT_FROZEN_FOR_TOKEN"
	StatusTransfersNotZeroSum      = "TRANSFERS_NOT_ZERO_SUM_FOR_TOKEN"
	StatusEmptyTransfers           = "EMPTY_TOKEN_TRANSFER_ACCOUNT_AMOUNTS"
	StatusInvalidTopicMessage      = "INVALID_TOPIC_MESSAGE"
	StatusMessageSizeTooLarge      = "MESSAGE_SIZE_TOO_LARGE"
	StatusInvalidAccountAmounts    = "INVALID_ACCOUNT_AMOUNTS"
)

// MaxMessageSize is the largest payload SubmitMessage accepts.
const MaxMessageSize = 20 * 1024

// ErrSessionClosed is returned by any call on a closed session.
var ErrSessionClosed = errors.New("memledger: session closed")

type account struct {
	key      ledger.PrivateKey
	tinybars int64
	tokens   map[ledger.TokenID]int64
	frozen   map[ledger.TokenID]bool
}

type topic struct {
	memo     string
	messages []Message
}

// Message is one ordered topic entry.
type Message struct {
	SequenceNumber     uint64
	Payload            []byte
	ConsensusTimestamp time.Time
	TransactionID      string
}

// Calls counts ledger round trips by kind.
type Calls struct {
	Open          int
	Close         int
	CreateTopic   int
	SubmitMessage int
	Transfer      int
	BalanceQuery  int
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	accounts map[ledger.AccountID]*account
	tokens   map[ledger.TokenID]bool
	topics   map[ledger.TopicID]*topic
	nextNum  uint64
	now      func() time.Time
	lastTx   time.Time
	calls    Calls

	// Latency, when set, is slept before each round trip.
	Latency time.Duration

	failOpen    error
	failNext    error
	balanceFail error
}

// New returns an empty ledger. Entity numbers start at 1001.
func New() *Ledger {
	return &Ledger{
		accounts: make(map[ledger.AccountID]*account),
		tokens:   make(map[ledger.TokenID]bool),
		topics:   make(map[ledger.TopicID]*topic),
		nextNum:  1000,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Ledger) allocate() ledger.EntityID {
	l.nextNum++
	return ledger.EntityID{Num: l.nextNum}
}

// CreateAccount registers an account controlled by key.
func (l *Ledger) CreateAccount(key ledger.PrivateKey, tinybars int64) ledger.AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := ledger.AccountID(l.allocate())
	l.accounts[id] = &account{
		key:      key,
		tinybars: tinybars,
		tokens:   make(map[ledger.TokenID]int64),
		frozen:   make(map[ledger.TokenID]bool),
	}
	return id
}

// AddAccount registers an account under a caller-chosen id.
func (l *Ledger) AddAccount(id ledger.AccountID, key ledger.PrivateKey, tinybars int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[id] = &account{
		key:      key,
		tinybars: tinybars,
		tokens:   make(map[ledger.TokenID]int64),
		frozen:   make(map[ledger.TokenID]bool),
	}
	if id.Num > l.nextNum {
		l.nextNum = id.Num
	}
}

// CreateToken mints supply into treasury, which is associated automatically.
func (l *Ledger) CreateToken(treasury ledger.AccountID, supply int64) (ledger.TokenID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := ledger.TokenID(l.allocate())
	if err := l.addToken(id, treasury, supply); err != nil {
		return ledger.TokenID{}, err
	}
	return id, nil
}

// AddToken registers a token under a caller-chosen id.
func (l *Ledger) AddToken(id ledger.TokenID, treasury ledger.AccountID, supply int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id.Num > l.nextNum {
		l.nextNum = id.Num
	}
	return l.addToken(id, treasury, supply)
}

func (l *Ledger) addToken(id ledger.TokenID, treasury ledger.AccountID, supply int64) error {
	acct, ok := l.accounts[treasury]
	if !ok {
		return fmt.Errorf("memledger: treasury %s does not exist", treasury)
	}
	l.tokens[id] = true
	acct.tokens[id] = supply
	return nil
}

// Associate lets account hold token.
func (l *Ledger) Associate(acct ledger.AccountID, token ledger.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[acct]
	if !ok {
		return fmt.Errorf("memledger: account %s does not exist", acct)
	}
	if !l.tokens[token] {
		return fmt.Errorf("memledger: token %s does not exist", token)
	}
	if _, held := a.tokens[token]; !held {
		a.tokens[token] = 0
	}
	return nil
}

// Freeze blocks account from sending or receiving token.
func (l *Ledger) Freeze(acct ledger.AccountID, token ledger.TokenID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.accounts[acct]; ok {
		a.frozen[token] = true
	}
}

// TokenBalance returns the balance account holds of token.
func (l *Ledger) TokenBalance(acct ledger.AccountID, token ledger.TokenID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.accounts[acct]; ok {
		return a.tokens[token]
	}
	return 0
}

// Messages returns a copy of the messages submitted to t, in consensus order.
func (l *Ledger) Messages(t ledger.TopicID) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	tp, ok := l.topics[t]
	if !ok {
		return nil
	}
	out := make([]Message, len(tp.messages))
	copy(out, tp.messages)
	return out
}

// Topics returns every topic created so far, sorted.
func (l *Ledger) Topics() []ledger.TopicID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.TopicID, 0, len(l.topics))
	for id := range l.topics {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// Calls returns a snapshot of the round-trip counters.
func (l *Ledger) Calls() Calls {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// FailOpen makes every Open fail with err until cleared with nil.
func (l *Ledger) FailOpen(err error) {
	l.mu.Lock()
	l.failOpen = err
	l.mu.Unlock()
}

// FailNext makes the next round trip fail with err.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	l.failNext = err
	l.mu.Unlock()
}

// FailBalanceQueries makes every balance query fail with err until cleared.
func (l *Ledger) FailBalanceQueries(err error) {
	l.mu.Lock()
	l.balanceFail = err
	l.mu.Unlock()
}

func (l *Ledger) takeFailure() error {
	err := l.failNext
	l.failNext = nil
	return err
}

// nextTransactionID allocates a unique payer@seconds.nanos id. The valid
// start is strictly increasing so ids never repeat.
func (l *Ledger) nextTransactionID(payer ledger.AccountID) (string, time.Time) {
	t := l.now()
	if !t.After(l.lastTx) {
		t = l.lastTx.Add(time.Nanosecond)
	}
	l.lastTx = t
	return fmt.Sprintf("%s@%d.%09d", payer, t.Unix(), t.Nanosecond()), t
}

func (l *Ledger) wait(ctx context.Context) error {
	if l.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.Latency):
		return nil
	}
}

// Open implements ledger.Provider.
func (l *Ledger) Open(ctx context.Context, operator ledger.Identity) (ledger.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOpen != nil {
		return nil, l.failOpen
	}
	l.calls.Open++
	return &session{ledger: l, operator: operator}, nil
}

var _ ledger.Provider = (*Ledger)(nil)

// ErrAlreadyExecuted is returned when a frozen transfer is reused.
var ErrAlreadyExecuted = errors.New("memledger: transaction already executed")
