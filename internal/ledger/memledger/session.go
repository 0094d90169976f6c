package memledger

import (
	"context"
	"sync"

	"github.com/whistlenet/hcs-relay/internal/ledger"
)

type session struct {
	ledger   *Ledger
	operator ledger.Identity

	mu     sync.Mutex
	closed bool
}

var _ ledger.Session = (*session)(nil)

func (s *session) begin(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return s.ledger.wait(ctx)
}

// payerStatus checks the operator can pay for and sign the transaction.
func (l *Ledger) payerStatus(op ledger.Identity) string {
	a, ok := l.accounts[op.Account]
	if !ok {
		return StatusInvalidAccountID
	}
	if !a.key.Equal(op.Key) {
		return StatusInvalidSignature
	}
	return ""
}

func (s *session) CreateTopic(ctx context.Context, memo string) (ledger.Receipt, error) {
	if err := s.begin(ctx); err != nil {
		return ledger.Receipt{}, err
	}
	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.CreateTopic++
	if err := l.takeFailure(); err != nil {
		return ledger.Receipt{}, err
	}

	txID, at := l.nextTransactionID(s.operator.Account)
	if status := l.payerStatus(s.operator); status != "" {
		return ledger.Receipt{}, &ledger.StatusError{Status: status, TransactionID: txID}
	}

	id := ledger.TopicID(l.allocate())
	l.topics[id] = &topic{memo: memo}
	return ledger.Receipt{
		TransactionID:      txID,
		Status:             ledger.StatusSuccess,
		TopicID:            &id,
		ConsensusTimestamp: at,
	}, nil
}

func (s *session) SubmitMessage(ctx context.Context, topicID ledger.TopicID, payload []byte) (ledger.Receipt, error) {
	if err := s.begin(ctx); err != nil {
		return ledger.Receipt{}, err
	}
	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.SubmitMessage++
	if err := l.takeFailure(); err != nil {
		return ledger.Receipt{}, err
	}

	txID, at := l.nextTransactionID(s.operator.Account)
	reject := func(status string) (ledger.Receipt, error) {
		return ledger.Receipt{}, &ledger.StatusError{Status: status, TransactionID: txID}
	}
	if status := l.payerStatus(s.operator); status != "" {
		return reject(status)
	}
	tp, ok := l.topics[topicID]
	if !ok {
		return reject(StatusInvalidTopicID)
	}
	if len(payload) == 0 {
		return reject(StatusInvalidTopicMessage)
	}
	if len(payload) > MaxMessageSize {
		return reject(StatusMessageSizeTooLarge)
	}

	msg := make([]byte, len(payload))
	copy(msg, payload)
	tp.messages = append(tp.messages, Message{
		SequenceNumber:     uint64(len(tp.messages) + 1),
		Payload:            msg,
		ConsensusTimestamp: at,
		TransactionID:      txID,
	})
	return ledger.Receipt{
		TransactionID:      txID,
		Status:             ledger.StatusSuccess,
		ConsensusTimestamp: at,
	}, nil
}

func (s *session) FreezeTransfer(ctx context.Context, items []ledger.TokenTransfer) (ledger.FrozenTransfer, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	frozen := make([]ledger.TokenTransfer, len(items))
	copy(frozen, items)
	return &transfer{session: s, items: frozen}, nil
}

func (s *session) QueryBalance(ctx context.Context, acct ledger.AccountID) (ledger.AccountBalance, error) {
	if err := s.begin(ctx); err != nil {
		return ledger.AccountBalance{}, err
	}
	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.BalanceQuery++
	if err := l.takeFailure(); err != nil {
		return ledger.AccountBalance{}, err
	}
	if l.balanceFail != nil {
		return ledger.AccountBalance{}, l.balanceFail
	}

	a, ok := l.accounts[acct]
	if !ok {
		return ledger.AccountBalance{}, &ledger.StatusError{Status: StatusInvalidAccountID}
	}
	tokens := make(map[ledger.TokenID]ledger.Maybe[int64], len(a.tokens))
	for id, bal := range a.tokens {
		tokens[id] = ledger.Present(bal)
	}
	return ledger.AccountBalance{
		Account: acct,
		Native:  ledger.Present(a.tinybars),
		Tokens:  ledger.Present(tokens),
	}, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	s.ledger.mu.Lock()
	s.ledger.calls.Close++
	s.ledger.mu.Unlock()
	return nil
}

// transfer is a frozen token transfer awaiting signatures.
type transfer struct {
	session *session
	items   []ledger.TokenTransfer

	mu       sync.Mutex
	signers  []ledger.PrivateKey
	executed bool
}

func (t *transfer) Items() []ledger.TokenTransfer {
	out := make([]ledger.TokenTransfer, len(t.items))
	copy(out, t.items)
	return out
}

func (t *transfer) Sign(key ledger.PrivateKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.executed {
		return ErrAlreadyExecuted
	}
	t.signers = append(t.signers, key)
	return nil
}

// Signatures returns how many signatures were attached.
func (t *transfer) Signatures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.signers)
}

func (t *transfer) signedBy(key ledger.PrivateKey) bool {
	for _, k := range t.signers {
		if k.Equal(key) {
			return true
		}
	}
	return false
}

func (t *transfer) Execute(ctx context.Context) (ledger.Receipt, error) {
	if err := t.session.begin(ctx); err != nil {
		return ledger.Receipt{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.executed {
		return ledger.Receipt{}, ErrAlreadyExecuted
	}
	t.executed = true

	l := t.session.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.Transfer++
	if err := l.takeFailure(); err != nil {
		return ledger.Receipt{}, err
	}

	operator := t.session.operator
	txID, at := l.nextTransactionID(operator.Account)
	settled, status := l.validateTransfer(operator, t)
	if status != "" {
		return ledger.Receipt{}, &ledger.StatusError{Status: status, TransactionID: txID}
	}

	for pos, balance := range settled {
		l.accounts[pos.account].tokens[pos.token] = balance
	}
	return ledger.Receipt{
		TransactionID:      txID,
		Status:             ledger.StatusSuccess,
		ConsensusTimestamp: at,
	}, nil
}

type position struct {
	account ledger.AccountID
	token   ledger.TokenID
}

// validateTransfer applies every check before any balance moves, so a
// rejected transfer leaves the ledger untouched. It returns the balance
// each touched position settles at.
func (l *Ledger) validateTransfer(operator ledger.Identity, t *transfer) (map[position]int64, string) {
	if status := l.payerStatus(operator); status != "" {
		return nil, status
	}
	if len(t.items) == 0 {
		return nil, StatusEmptyTransfers
	}

	net := make(map[ledger.TokenID]int64)
	deltas := make(map[position]int64)
	for _, it := range t.items {
		if !l.tokens[it.Token] {
			return nil, StatusInvalidTokenID
		}
		a, ok := l.accounts[it.Account]
		if !ok {
			return nil, StatusInvalidAccountID
		}
		if _, held := a.tokens[it.Token]; !held {
			return nil, StatusTokenNotAssociated
		}
		if a.frozen[it.Token] {
			return nil, StatusAccountFrozenForToken
		}
		// overflowing sums are rejected, never wrapped
		n, ok := ledger.AddAmount(net[it.Token], it.Amount)
		if !ok {
			return nil, StatusInvalidAccountAmounts
		}
		net[it.Token] = n
		pos := position{it.Account, it.Token}
		d, ok := ledger.AddAmount(deltas[pos], it.Amount)
		if !ok {
			return nil, StatusInvalidAccountAmounts
		}
		deltas[pos] = d
	}
	for _, n := range net {
		if n != 0 {
			return nil, StatusTransfersNotZeroSum
		}
	}

	settled := make(map[position]int64, len(deltas))
	for pos, delta := range deltas {
		a := l.accounts[pos.account]
		if delta < 0 && !a.key.Equal(operator.Key) && !t.signedBy(a.key) {
			return nil, StatusInvalidSignature
		}
		balance, ok := ledger.AddAmount(a.tokens[pos.token], delta)
		if !ok {
			return nil, StatusInvalidAccountAmounts
		}
		if balance < 0 {
			return nil, StatusInsufficientTokenBalance
		}
		settled[pos] = balance
	}
	return settled, ""
}
