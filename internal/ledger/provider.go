package ledger

import (
	"context"

	"github.com/whistlenet/hcs-relay/internal/logging"
)

// Provider opens authenticated sessions to a ledger network.
//
// A session belongs to exactly one logical operation: it is opened right
// before the operation and closed before control returns, on every path.
// Sessions are never shared between concurrent operations.
type Provider interface {
	Open(ctx context.Context, operator Identity) (Session, error)
}

// Session is one authenticated connection. The operator identity it was
// opened with pays for, and signs, everything submitted through it.
//
// Round trips block until the network answers. The context is honoured
// before a round trip starts; an execute/receipt exchange already in flight
// runs to completion.
type Session interface {
	// CreateTopic submits a topic-create transaction and waits for its receipt.
	CreateTopic(ctx context.Context, memo string) (Receipt, error)
	// SubmitMessage submits payload to topic and waits for consensus.
	SubmitMessage(ctx context.Context, topic TopicID, payload []byte) (Receipt, error)
	// FreezeTransfer builds a transfer from line items and freezes it so it
	// can be multi-signed.
	FreezeTransfer(ctx context.Context, items []TokenTransfer) (FrozenTransfer, error)
	// QueryBalance reads the current balances of account.
	QueryBalance(ctx context.Context, account AccountID) (AccountBalance, error)
	Close() error
}

// FrozenTransfer is a transfer whose body can no longer change.
type FrozenTransfer interface {
	// Items returns the frozen line items.
	Items() []TokenTransfer
	// Sign adds a signature.
	Sign(key PrivateKey) error
	// Execute submits the transaction and waits for its receipt.
	Execute(ctx context.Context) (Receipt, error)
}

// Connector opens sessions for a fixed operator identity.
type Connector struct {
	Provider Provider
	Operator Identity
	Log      *logging.Logger
}

// Do runs fn inside a freshly opened session and closes the session on
// every exit path, including panics. Open failures are reported as
// connectivity errors. A failed close after a successful operation is
// logged, not returned: the ledger has already settled the operation.
func Do[T any](ctx context.Context, c Connector, op string, fn func(Session) (T, error)) (result T, err error) {
	if err := ctx.Err(); err != nil {
		return result, Classify(op, err)
	}

	session, err := c.Provider.Open(ctx, c.Operator)
	if err != nil {
		return result, Classify(op, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil && c.Log != nil {
			c.Log.Warn(ctx, "closing ledger session failed", map[string]interface{}{
				"operation": op,
				"error":     cerr.Error(),
			})
		}
	}()

	return fn(session)
}
