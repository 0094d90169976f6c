package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/whistlenet/hcs-relay/internal/config"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/ledger/memledger"
)

// Seed balances for the in-process ledger.
const (
	memoryOperatorTinybars = 10_000 * 100_000_000
	memoryTokenSupply      = 1_000_000_000
)

// newMemoryLedger seeds an in-process ledger with the operator and the
// configured token. Without a configured operator a throwaway identity is
// generated.
func newMemoryLedger(cfg config.Config, token ledger.TokenID) (*memledger.Ledger, ledger.Identity, error) {
	l := memledger.New()

	var operator ledger.Identity
	if cfg.Ledger.OperatorAccountID != "" {
		op, err := cfg.Operator()
		if err != nil {
			return nil, ledger.Identity{}, err
		}
		operator = op
		l.AddAccount(operator.Account, operator.Key, memoryOperatorTinybars)
	} else {
		key, err := generateKey()
		if err != nil {
			return nil, ledger.Identity{}, err
		}
		operator = ledger.Identity{Key: key}
		operator.Account = l.CreateAccount(key, memoryOperatorTinybars)
	}

	if err := l.AddToken(token, operator.Account, memoryTokenSupply); err != nil {
		return nil, ledger.Identity{}, fmt.Errorf("seed token %s: %w", token, err)
	}
	return l, operator, nil
}

func generateKey() (ledger.PrivateKey, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return ledger.PrivateKey{}, fmt.Errorf("generate operator key: %w", err)
	}
	return ledger.ParsePrivateKey(hex.EncodeToString(raw[:]))
}
