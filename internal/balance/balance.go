// Package balance reads account balances. Missing or malformed balance
// data reads as zero; only failures to issue the query are errors.
package balance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
	"github.com/whistlenet/hcs-relay/internal/metrics"
)

// Snapshot is an account's balances at one point in time.
type Snapshot struct {
	AccountID string `json:"accountId"`
	// HbarBalance is the human readable native balance, e.g. "12.5 ℏ".
	HbarBalance string `json:"hbarBalance"`
	// Tinybars is the native balance in its smallest unit.
	Tinybars      int64             `json:"tinybars"`
	TokenBalances map[string]string `json:"tokenBalances"`
}

// TokenBalance is one token position. Balance is a base-10 integer string.
type TokenBalance struct {
	AccountID string `json:"accountId"`
	TokenID   string `json:"tokenId"`
	Balance   string `json:"balance"`
}

// Config configures a Service.
type Config struct {
	Connector    ledger.Connector
	DefaultToken ledger.TokenID
	Logger       *logging.Logger
}

// Service queries balances.
type Service struct {
	conn         ledger.Connector
	defaultToken ledger.TokenID
	log          *logging.Logger
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Connector.Provider == nil {
		return nil, fmt.Errorf("balance service: ledger provider required")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("balance")
	}
	return &Service{conn: cfg.Connector, defaultToken: cfg.DefaultToken, log: log}, nil
}

// query fetches the raw balance. A data-shape failure comes back as a
// balance with everything absent rather than as an error.
func (s *Service) query(ctx context.Context, account ledger.AccountID) (ledger.AccountBalance, error) {
	start := time.Now()
	b, err := ledger.Do(ctx, s.conn, "query balance", func(sess ledger.Session) (ledger.AccountBalance, error) {
		b, err := sess.QueryBalance(ctx, account)
		if err != nil {
			return b, ledger.Classify("query balance", err)
		}
		return b, nil
	})
	if svcerrors.IsDataShape(err) {
		s.log.Warn(ctx, "balance response unusable; reading as zero", map[string]interface{}{
			"account_id": account.String(),
			"error":      err.Error(),
		})
		metrics.RecordLedgerOperation("balance_query", nil, time.Since(start))
		return ledger.AccountBalance{Account: account}, nil
	}
	metrics.RecordLedgerOperation("balance_query", err, time.Since(start))
	return b, err
}

func parseAccount(v interface{}) (ledger.AccountID, error) {
	id, err := ledger.AccountFrom(v)
	if err != nil {
		return ledger.AccountID{}, svcerrors.Validationf("invalid accountId: %v", err).WithDetail("field", "accountId")
	}
	return id, nil
}

// Snapshot returns the native balance and every held token. An account
// holding nothing yields a zero balance and an empty map.
func (s *Service) Snapshot(ctx context.Context, account interface{}) (Snapshot, error) {
	id, err := parseAccount(account)
	if err != nil {
		return Snapshot{}, err
	}
	b, err := s.query(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}

	tinybars := b.Native.OrElse(0)
	snap := Snapshot{
		AccountID:     id.String(),
		HbarBalance:   ledger.FormatHbar(tinybars),
		Tinybars:      tinybars,
		TokenBalances: map[string]string{},
	}
	if tokens, ok := b.Tokens.Get(); ok {
		for token, amount := range tokens {
			snap.TokenBalances[token.String()] = strconv.FormatInt(amount.OrElse(0), 10)
		}
	}
	return snap, nil
}

// TokenBalance returns one token's balance, "0" when the account holds no
// position in it or the data is missing.
func (s *Service) TokenBalance(ctx context.Context, account, token interface{}) (TokenBalance, error) {
	id, err := parseAccount(account)
	if err != nil {
		return TokenBalance{}, err
	}
	tok, err := ledger.TokenFrom(token)
	if err != nil {
		return TokenBalance{}, svcerrors.Validationf("invalid tokenId: %v", err).WithDetail("field", "tokenId")
	}
	b, err := s.query(ctx, id)
	if err != nil {
		return TokenBalance{}, err
	}

	res := TokenBalance{AccountID: id.String(), TokenID: tok.String(), Balance: "0"}
	if v, ok := b.TokenBalance(tok).Get(); ok {
		res.Balance = strconv.FormatInt(v, 10)
	}
	return res, nil
}

// DefaultTokenBalance returns the configured token's balance for account.
func (s *Service) DefaultTokenBalance(ctx context.Context, account interface{}) (TokenBalance, error) {
	if s.defaultToken.IsZero() {
		return TokenBalance{}, svcerrors.Validation("no default token configured")
	}
	return s.TokenBalance(ctx, account, s.defaultToken)
}

// SortedTokens returns the snapshot's token ids in ascending order.
func (s Snapshot) SortedTokens() []string {
	ids := make([]string, 0, len(s.TokenBalances))
	for id := range s.TokenBalances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
