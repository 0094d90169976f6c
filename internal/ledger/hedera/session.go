package hedera

import (
	"context"
	"errors"
	"sync"

	sdk "github.com/hashgraph/hedera-sdk-go/v2"

	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
)

var errSessionClosed = errors.New("hedera: session closed")

// session wraps one SDK client. SDK calls take no context, so ctx is
// checked before each round trip and an exchange in flight always runs to
// completion.
type session struct {
	mu       sync.Mutex
	client   *sdk.Client
	operator ledger.Identity
	mirror   *MirrorClient
	log      *logging.Logger
	closed   bool
}

var _ ledger.Session = (*session)(nil)

func (s *session) ready(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSessionClosed
	}
	return ctx.Err()
}

func (s *session) CreateTopic(ctx context.Context, memo string) (ledger.Receipt, error) {
	if err := s.ready(ctx); err != nil {
		return ledger.Receipt{}, err
	}
	tx := sdk.NewTopicCreateTransaction()
	if memo != "" {
		tx.SetTopicMemo(memo)
	}
	resp, err := tx.Execute(s.client)
	if err != nil {
		return ledger.Receipt{}, translateError(err)
	}
	receipt, err := resp.GetReceipt(s.client)
	if err != nil {
		return ledger.Receipt{}, translateError(err)
	}

	out := ledger.Receipt{
		TransactionID: transactionIDString(resp.TransactionID),
		Status:        receipt.Status.String(),
	}
	if receipt.TopicID != nil {
		id := fromTopicID(*receipt.TopicID)
		out.TopicID = &id
	}
	return out, nil
}

func (s *session) SubmitMessage(ctx context.Context, topic ledger.TopicID, payload []byte) (ledger.Receipt, error) {
	if err := s.ready(ctx); err != nil {
		return ledger.Receipt{}, err
	}
	topicID, err := toTopicID(topic)
	if err != nil {
		return ledger.Receipt{}, err
	}
	resp, err := sdk.NewTopicMessageSubmitTransaction().
		SetTopicID(topicID).
		SetMessage(payload).
		Execute(s.client)
	if err != nil {
		return ledger.Receipt{}, translateError(err)
	}
	// The record carries the consensus timestamp; the receipt alone does not.
	record, err := resp.GetRecord(s.client)
	if err != nil {
		return ledger.Receipt{}, translateError(err)
	}

	return ledger.Receipt{
		TransactionID:      transactionIDString(resp.TransactionID),
		Status:             record.Receipt.Status.String(),
		ConsensusTimestamp: record.ConsensusTimestamp,
	}, nil
}

func (s *session) FreezeTransfer(ctx context.Context, items []ledger.TokenTransfer) (ledger.FrozenTransfer, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	tx := sdk.NewTransferTransaction()
	for _, it := range items {
		token, err := toTokenID(it.Token)
		if err != nil {
			return nil, err
		}
		account, err := toAccountID(it.Account)
		if err != nil {
			return nil, err
		}
		tx.AddTokenTransfer(token, account, it.Amount)
	}
	frozen, err := tx.FreezeWith(s.client)
	if err != nil {
		return nil, translateError(err)
	}
	copied := make([]ledger.TokenTransfer, len(items))
	copy(copied, items)
	return &transfer{session: s, tx: frozen, items: copied}, nil
}

func (s *session) QueryBalance(ctx context.Context, account ledger.AccountID) (ledger.AccountBalance, error) {
	if err := s.ready(ctx); err != nil {
		return ledger.AccountBalance{}, err
	}
	id, err := toAccountID(account)
	if err != nil {
		return ledger.AccountBalance{}, err
	}
	bal, err := sdk.NewAccountBalanceQuery().SetAccountID(id).Execute(s.client)
	if err != nil {
		return ledger.AccountBalance{}, translateError(err)
	}

	out := ledger.AccountBalance{
		Account: account,
		Native:  ledger.Present(bal.Hbars.AsTinybar()),
		Tokens:  ledger.Absent[map[ledger.TokenID]ledger.Maybe[int64]](),
	}
	tokens, err := s.mirror.TokenBalances(ctx, account)
	if err != nil {
		s.log.Warn(ctx, "token balances unavailable from mirror node", map[string]interface{}{
			"account_id": account.String(),
			"error":      err.Error(),
		})
		return out, nil
	}
	out.Tokens = ledger.Present(tokens)
	return out, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	s.closed = true
	return s.client.Close()
}

// transfer is a frozen SDK transfer transaction.
type transfer struct {
	session *session
	tx      *sdk.TransferTransaction
	items   []ledger.TokenTransfer
}

func (t *transfer) Items() []ledger.TokenTransfer {
	out := make([]ledger.TokenTransfer, len(t.items))
	copy(out, t.items)
	return out
}

func (t *transfer) Sign(key ledger.PrivateKey) error {
	k, err := toPrivateKey(key)
	if err != nil {
		return err
	}
	t.tx.Sign(k)
	return nil
}

func (t *transfer) Execute(ctx context.Context) (ledger.Receipt, error) {
	if err := t.session.ready(ctx); err != nil {
		return ledger.Receipt{}, err
	}
	resp, err := t.tx.Execute(t.session.client)
	if err != nil {
		return ledger.Receipt{}, translateError(err)
	}
	receipt, err := resp.GetReceipt(t.session.client)
	if err != nil {
		return ledger.Receipt{}, translateError(err)
	}
	return ledger.Receipt{
		TransactionID: transactionIDString(resp.TransactionID),
		Status:        receipt.Status.String(),
	}, nil
}
