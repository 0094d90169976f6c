package ledger

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// StatusSuccess is the receipt status of a settled transaction.
const StatusSuccess = "SUCCESS"

// Receipt is what a session reports back for an executed transaction.
type Receipt struct {
	TransactionID      string
	Status             string
	TopicID            *TopicID
	ConsensusTimestamp time.Time
}

// TokenTransfer is one debit or credit line item. Debits are negative.
type TokenTransfer struct {
	Token   TokenID
	Account AccountID
	Amount  int64
}

// NetByToken sums line items per token. A balanced transaction nets to zero
// for every token.
func NetByToken(items []TokenTransfer) map[TokenID]int64 {
	net := make(map[TokenID]int64)
	for _, it := range items {
		net[it.Token] += it.Amount
	}
	return net
}

// AddAmount returns a+b, or false when the sum does not fit in an int64.
func AddAmount(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// Maybe is a value that a ledger response may or may not have carried.
type Maybe[T any] struct {
	value T
	ok    bool
}

// Present wraps a value that was in the response.
func Present[T any](v T) Maybe[T] { return Maybe[T]{value: v, ok: true} }

// Absent marks a value the response did not carry.
func Absent[T any]() Maybe[T] { return Maybe[T]{} }

// Get returns the value and whether it was present.
func (m Maybe[T]) Get() (T, bool) { return m.value, m.ok }

// OrElse returns the value, or def when absent.
func (m Maybe[T]) OrElse(def T) T {
	if m.ok {
		return m.value
	}
	return def
}

// AccountBalance is a raw balance response. Either half may be missing.
type AccountBalance struct {
	Account AccountID
	// Tinybars held, when the network reported it.
	Native Maybe[int64]
	// Per-token balances. The map itself is absent when token data could not
	// be fetched; individual entries are absent when malformed.
	Tokens Maybe[map[TokenID]Maybe[int64]]
}

// TokenBalance looks up one token, reporting absence rather than zero.
func (b AccountBalance) TokenBalance(token TokenID) Maybe[int64] {
	tokens, ok := b.Tokens.Get()
	if !ok {
		return Absent[int64]()
	}
	v, ok := tokens[token]
	if !ok {
		return Absent[int64]()
	}
	return v
}

const tinybarsPerHbar = 100_000_000

// FormatHbar renders tinybars as a decimal hbar amount with the ℏ suffix.
func FormatHbar(tinybars int64) string {
	sign := ""
	t := tinybars
	if t < 0 {
		sign = "-"
		t = -t
	}
	whole := t / tinybarsPerHbar
	frac := t % tinybarsPerHbar
	if frac == 0 {
		return fmt.Sprintf("%s%d ℏ", sign, whole)
	}
	fs := fmt.Sprintf("%08d", frac)
	for fs[len(fs)-1] == '0' {
		fs = fs[:len(fs)-1]
	}
	return sign + strconv.FormatInt(whole, 10) + "." + fs + " ℏ"
}

// FormatTimestamp renders a consensus timestamp as seconds.nanoseconds, the
// form used by explorers and the mirror node. Zero time renders as "".
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}
