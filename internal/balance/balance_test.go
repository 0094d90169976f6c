package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/ledger/memledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
)

const (
	operatorKeyHex = "65daa5b4616b0af96bea690f5c4afc0337a002bc7f5c3f2e28e575b9a253d31e"
	aliceKeyHex    = "1111111111111111111111111111111111111111111111111111111111111111"
)

type fixture struct {
	ledger   *memledger.Ledger
	svc      *Service
	operator ledger.Identity
	alice    ledger.AccountID
	token    ledger.TokenID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	l := memledger.New()
	op := ledger.Identity{Key: ledger.MustParsePrivateKey(operatorKeyHex)}
	op.Account = l.CreateAccount(op.Key, 1_250_000_000)
	alice := l.CreateAccount(ledger.MustParsePrivateKey(aliceKeyHex), 0)
	token, err := l.CreateToken(op.Account, 5_000)
	require.NoError(t, err)

	svc, err := New(Config{
		Connector:    ledger.Connector{Provider: l, Operator: op, Log: logging.Discard()},
		DefaultToken: token,
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)
	return fixture{ledger: l, svc: svc, operator: op, alice: alice, token: token}
}

// stubProvider answers every balance query with a fixed response.
type stubProvider struct {
	balance ledger.AccountBalance
	err     error
}

type stubSession struct {
	ledger.Session
	p *stubProvider
}

func (p *stubProvider) Open(context.Context, ledger.Identity) (ledger.Session, error) {
	return stubSession{p: p}, nil
}

func (s stubSession) QueryBalance(_ context.Context, acct ledger.AccountID) (ledger.AccountBalance, error) {
	b := s.p.balance
	b.Account = acct
	return b, s.p.err
}

func (s stubSession) Close() error { return nil }

func newStubService(t *testing.T, p *stubProvider) *Service {
	t.Helper()
	svc, err := New(Config{Connector: ledger.Connector{Provider: p}, Logger: logging.Discard()})
	require.NoError(t, err)
	return svc
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)

	snap, err := f.svc.Snapshot(context.Background(), f.operator.Account.String())
	require.NoError(t, err)
	assert.Equal(t, f.operator.Account.String(), snap.AccountID)
	assert.Equal(t, "12.5 ℏ", snap.HbarBalance)
	assert.Equal(t, int64(1_250_000_000), snap.Tinybars)
	assert.Equal(t, map[string]string{f.token.String(): "5000"}, snap.TokenBalances)
	assert.Equal(t, []string{f.token.String()}, snap.SortedTokens())
}

func TestSnapshot_EmptyAccount(t *testing.T) {
	f := newFixture(t)

	snap, err := f.svc.Snapshot(context.Background(), f.alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Tinybars)
	assert.NotNil(t, snap.TokenBalances)
	assert.Empty(t, snap.TokenBalances)
}

func TestTokenBalance_UnknownTokenIsZero(t *testing.T) {
	f := newFixture(t)

	tb, err := f.svc.TokenBalance(context.Background(), f.alice, "0.0.999999")
	require.NoError(t, err)
	assert.Equal(t, "0", tb.Balance)
	assert.Equal(t, "0.0.999999", tb.TokenID)
}

func TestTokenBalance_Held(t *testing.T) {
	f := newFixture(t)

	tb, err := f.svc.DefaultTokenBalance(context.Background(), f.operator.Account)
	require.NoError(t, err)
	assert.Equal(t, "5000", tb.Balance)
}

func TestTokenBalance_AbsentTokenMapIsZero(t *testing.T) {
	svc := newStubService(t, &stubProvider{balance: ledger.AccountBalance{
		Native: ledger.Present[int64](10),
		Tokens: ledger.Absent[map[ledger.TokenID]ledger.Maybe[int64]](),
	}})

	tb, err := svc.TokenBalance(context.Background(), "0.0.5", "0.0.6")
	require.NoError(t, err)
	assert.Equal(t, "0", tb.Balance)

	snap, err := svc.Snapshot(context.Background(), "0.0.5")
	require.NoError(t, err)
	assert.Empty(t, snap.TokenBalances)
	assert.Equal(t, int64(10), snap.Tinybars)
}

func TestTokenBalance_MalformedEntryIsZero(t *testing.T) {
	tok := ledger.TokenID{Num: 6}
	svc := newStubService(t, &stubProvider{balance: ledger.AccountBalance{
		Tokens: ledger.Present(map[ledger.TokenID]ledger.Maybe[int64]{tok: ledger.Absent[int64]()}),
	}})

	tb, err := svc.TokenBalance(context.Background(), "0.0.5", tok)
	require.NoError(t, err)
	assert.Equal(t, "0", tb.Balance)
}

func TestTokenBalance_DataShapeErrorIsZero(t *testing.T) {
	svc := newStubService(t, &stubProvider{err: svcerrors.DataShape("token balances", errors.New("unexpected field type"))})

	tb, err := svc.TokenBalance(context.Background(), "0.0.5", "0.0.6")
	require.NoError(t, err)
	assert.Equal(t, "0", tb.Balance)
}

func TestTokenBalance_ConnectivityPropagates(t *testing.T) {
	f := newFixture(t)
	f.ledger.FailBalanceQueries(errors.New("connection refused"))

	_, err := f.svc.TokenBalance(context.Background(), f.alice, f.token)
	require.Error(t, err)
	assert.True(t, svcerrors.IsConnectivity(err))

	calls := f.ledger.Calls()
	assert.Equal(t, calls.Open, calls.Close)
}

func TestTokenBalance_UnknownAccountPropagates(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.TokenBalance(context.Background(), "0.0.424242", f.token)
	assert.True(t, svcerrors.IsLedgerRejection(err))
}

func TestTokenBalance_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.TokenBalance(context.Background(), "alice", f.token)
	assert.True(t, svcerrors.IsValidation(err))
	_, err = f.svc.TokenBalance(context.Background(), f.alice, "")
	assert.True(t, svcerrors.IsValidation(err))
	assert.Equal(t, 0, f.ledger.Calls().Open)
}

func TestAuditor(t *testing.T) {
	f := newFixture(t)

	_, err := NewAuditor(f.svc, AuditConfig{Schedule: "not a schedule", Account: f.operator.Account, Token: f.token})
	assert.Error(t, err)
	_, err = NewAuditor(f.svc, AuditConfig{Schedule: "@every 1m"})
	assert.Error(t, err)

	a, err := NewAuditor(f.svc, AuditConfig{
		Schedule: "@every 1h",
		Account:  f.operator.Account,
		Token:    f.token,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)

	tb, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5000", tb.Balance)
	last, lastErr := a.Last()
	assert.NoError(t, lastErr)
	assert.Equal(t, tb, last)

	a.Start()
	require.NoError(t, a.Stop(context.Background()))
}
