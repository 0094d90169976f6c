// Package transfer moves fungible tokens between accounts in single or
// batched, multi-signed transactions.
package transfer

import (
	"context"
	"fmt"
	"time"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
	"github.com/whistlenet/hcs-relay/internal/metrics"
)

// Spec is one logical token movement. Token, Sender and Receiver accept a
// dotted "shard.realm.num" string or a typed ledger reference.
//
// A nil Token means the engine's default token and a nil Sender means the
// operator. SenderKey may be left zero when the sender is the operator.
type Spec struct {
	Token     interface{}
	Sender    interface{}
	SenderKey ledger.PrivateKey
	Receiver  interface{}
	Amount    int64
}

// Result describes a settled single transfer.
type Result struct {
	TokenID       string `json:"tokenId"`
	FromAccount   string `json:"fromAccount"`
	ToAccount     string `json:"toAccount"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	HashscanURL   string `json:"hashscanUrl"`
}

// BatchResult describes a settled batch.
type BatchResult struct {
	TransactionID  string `json:"transactionId"`
	Status         string `json:"status"`
	HashscanURL    string `json:"hashscanUrl"`
	TransfersCount int    `json:"transfersCount"`
}

// Config configures an Engine.
type Config struct {
	Connector ledger.Connector
	Explorer  ledger.Explorer
	// DefaultToken is used by TransferDefaultToken.
	DefaultToken ledger.TokenID
	Logger       *logging.Logger
}

// Engine builds, signs and executes token transfers.
//
// Transfers are not deduplicated: replaying a call submits a new
// transaction. Callers needing exactly-once delivery track transaction ids.
type Engine struct {
	conn         ledger.Connector
	explorer     ledger.Explorer
	defaultToken ledger.TokenID
	log          *logging.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Connector.Provider == nil {
		return nil, fmt.Errorf("transfer engine: ledger provider required")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("transfer")
	}
	return &Engine{
		conn:         cfg.Connector,
		explorer:     cfg.Explorer,
		defaultToken: cfg.DefaultToken,
		log:          log,
	}, nil
}

// DefaultToken returns the token TransferDefaultToken moves.
func (e *Engine) DefaultToken() ledger.TokenID { return e.defaultToken }

// leg is a validated Spec.
type leg struct {
	token    ledger.TokenID
	sender   ledger.AccountID
	key      ledger.PrivateKey
	receiver ledger.AccountID
	amount   int64
}

func (e *Engine) normalize(s Spec) (leg, error) {
	if s.Amount <= 0 {
		return leg{}, svcerrors.InvalidAmount(s.Amount)
	}
	if s.Receiver == nil {
		return leg{}, svcerrors.Validation("receiverId is required").WithDetail("field", "receiverId")
	}
	if s.Token == nil {
		if e.defaultToken.IsZero() {
			return leg{}, svcerrors.Validation("tokenId is required").WithDetail("field", "tokenId")
		}
		s.Token = e.defaultToken
	}
	if s.Sender == nil {
		s.Sender = e.conn.Operator.Account
	}
	token, err := ledger.TokenFrom(s.Token)
	if err != nil {
		return leg{}, svcerrors.Validationf("invalid tokenId: %v", err).WithDetail("field", "tokenId")
	}
	sender, err := ledger.AccountFrom(s.Sender)
	if err != nil {
		return leg{}, svcerrors.Validationf("invalid senderId: %v", err).WithDetail("field", "senderId")
	}
	receiver, err := ledger.AccountFrom(s.Receiver)
	if err != nil {
		return leg{}, svcerrors.Validationf("invalid receiverId: %v", err).WithDetail("field", "receiverId")
	}
	if sender == receiver {
		return leg{}, svcerrors.Validation("sender and receiver must differ").WithDetail("field", "receiverId")
	}
	key := s.SenderKey
	if key.IsZero() {
		if sender != e.conn.Operator.Account {
			return leg{}, svcerrors.Validation("senderKey is required").WithDetail("field", "senderKey")
		}
		key = e.conn.Operator.Key
	}
	return leg{token: token, sender: sender, key: key, receiver: receiver, amount: s.Amount}, nil
}

// lineItems returns the debit and credit for l. They sum to zero.
func (l leg) lineItems() []ledger.TokenTransfer {
	return []ledger.TokenTransfer{
		{Token: l.token, Account: l.sender, Amount: -l.amount},
		{Token: l.token, Account: l.receiver, Amount: l.amount},
	}
}

// BuildLineItems validates specs and returns the debit/credit pairs, in
// input order, that a batch of them would submit.
func (e *Engine) BuildLineItems(specs []Spec) ([]ledger.TokenTransfer, error) {
	legs, err := e.normalizeAll(specs)
	if err != nil {
		return nil, err
	}
	items := make([]ledger.TokenTransfer, 0, 2*len(legs))
	for _, l := range legs {
		items = append(items, l.lineItems()...)
	}
	return items, nil
}

func (e *Engine) normalizeAll(specs []Spec) ([]leg, error) {
	if len(specs) == 0 {
		return nil, svcerrors.InvalidInput("at least one transfer is required")
	}
	legs := make([]leg, 0, len(specs))
	debits := make(map[position]int64)
	credits := make(map[position]int64)
	for i, s := range specs {
		l, err := e.normalize(s)
		if err != nil {
			if se, ok := svcerrors.AsServiceError(err); ok {
				return nil, se.WithDetail("index", i)
			}
			return nil, err
		}
		if err := accumulate(debits, position{l.sender, l.token}, l.amount); err != nil {
			return nil, err.WithDetail("index", i).WithDetail("field", "senderId")
		}
		if err := accumulate(credits, position{l.receiver, l.token}, l.amount); err != nil {
			return nil, err.WithDetail("index", i).WithDetail("field", "receiverId")
		}
		legs = append(legs, l)
	}
	return legs, nil
}

type position struct {
	account ledger.AccountID
	token   ledger.TokenID
}

// accumulate adds amount to the running total for p. A total past the
// int64 range is a validation error.
func accumulate(totals map[position]int64, p position, amount int64) *svcerrors.ServiceError {
	sum, ok := ledger.AddAmount(totals[p], amount)
	if !ok {
		return svcerrors.Validationf("total amount of %s for account %s overflows", p.token, p.account)
	}
	totals[p] = sum
	return nil
}

// signers returns one key per distinct sender key, in first-seen order.
// The operator key is left out: the session signs with it on execute.
func (e *Engine) signers(legs []leg) []ledger.PrivateKey {
	seen := make(map[string]bool, len(legs))
	var keys []ledger.PrivateKey
	for _, l := range legs {
		if l.key.Equal(e.conn.Operator.Key) || seen[l.key.Material()] {
			continue
		}
		seen[l.key.Material()] = true
		keys = append(keys, l.key)
	}
	return keys
}

// execute freezes items, signs them with keys in order, and submits the
// transaction as one atomic unit.
func (e *Engine) execute(ctx context.Context, op, metric string, items []ledger.TokenTransfer, keys []ledger.PrivateKey) (ledger.Receipt, error) {
	start := time.Now()
	r, err := ledger.Do(ctx, e.conn, op, func(s ledger.Session) (ledger.Receipt, error) {
		tx, err := s.FreezeTransfer(ctx, items)
		if err != nil {
			return ledger.Receipt{}, ledger.Classify(op, fmt.Errorf("freeze: %w", err))
		}
		for _, k := range keys {
			if err := tx.Sign(k); err != nil {
				return ledger.Receipt{}, ledger.Classify(op, fmt.Errorf("sign: %w", err))
			}
		}
		r, err := tx.Execute(ctx)
		if err != nil {
			return r, ledger.Classify(op, err)
		}
		return r, nil
	})
	metrics.RecordLedgerOperation(metric, err, time.Since(start))
	return r, err
}

// Transfer moves s.Amount of s.Token from s.Sender to s.Receiver.
func (e *Engine) Transfer(ctx context.Context, s Spec) (Result, error) {
	l, err := e.normalize(s)
	if err != nil {
		return Result{}, err
	}

	fields := map[string]interface{}{
		"token_id": l.token.String(),
		"from":     l.sender.String(),
		"to":       l.receiver.String(),
		"amount":   l.amount,
	}
	r, err := e.execute(ctx, "transfer tokens", "token_transfer", l.lineItems(), e.signers([]leg{l}))
	if err != nil {
		fields["error"] = err.Error()
		e.log.Error(ctx, "token transfer failed", fields)
		return Result{}, err
	}

	res := Result{
		TokenID:       l.token.String(),
		FromAccount:   l.sender.String(),
		ToAccount:     l.receiver.String(),
		Amount:        l.amount,
		TransactionID: r.TransactionID,
		Status:        r.Status,
		HashscanURL:   e.explorer.TransactionURL(r.TransactionID),
	}
	fields["transaction_id"] = res.TransactionID
	fields["status"] = res.Status
	fields["hashscan_url"] = res.HashscanURL
	e.log.Info(ctx, "token transfer settled", fields)
	return res, nil
}

// TransferBatch combines specs into a single transaction. Every distinct
// sender key signs once, in input order, before execution. The ledger
// settles all line items or none.
func (e *Engine) TransferBatch(ctx context.Context, specs []Spec) (BatchResult, error) {
	legs, err := e.normalizeAll(specs)
	if err != nil {
		return BatchResult{}, err
	}
	items := make([]ledger.TokenTransfer, 0, 2*len(legs))
	for _, l := range legs {
		items = append(items, l.lineItems()...)
	}

	r, err := e.execute(ctx, "batch transfer", "token_transfer_batch", items, e.signers(legs))
	if err != nil {
		e.log.Error(ctx, "batch transfer failed", map[string]interface{}{
			"transfers": len(legs),
			"error":     err.Error(),
		})
		return BatchResult{}, err
	}

	res := BatchResult{
		TransactionID:  r.TransactionID,
		Status:         r.Status,
		HashscanURL:    e.explorer.TransactionURL(r.TransactionID),
		TransfersCount: len(legs),
	}
	e.log.Info(ctx, "batch transfer settled", map[string]interface{}{
		"transfers":      res.TransfersCount,
		"transaction_id": res.TransactionID,
		"status":         res.Status,
		"hashscan_url":   res.HashscanURL,
	})
	return res, nil
}

// TransferDefaultToken sends amount of the configured token from the
// operator to receiver.
func (e *Engine) TransferDefaultToken(ctx context.Context, receiver interface{}, amount int64) (Result, error) {
	if e.defaultToken.IsZero() {
		return Result{}, svcerrors.Validation("no default token configured")
	}
	return e.Transfer(ctx, Spec{Receiver: receiver, Amount: amount})
}
