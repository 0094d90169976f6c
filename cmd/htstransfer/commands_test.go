package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistlenet/hcs-relay/internal/app"
	"github.com/whistlenet/hcs-relay/internal/config"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/ledger/memledger"
)

const receiverKeyHex = "1111111111111111111111111111111111111111111111111111111111111111"

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Ledger.Network = config.NetworkMemory
	cfg.Log.Level = "error"
	return cfg
}

// newCLI builds a CLI over a memory ledger with one extra associated
// account.
func newCLI(t *testing.T) (*runner, *bytes.Buffer, ledger.AccountID) {
	t.Helper()
	cfg := memoryConfig()
	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	l := a.Connector.Provider.(*memledger.Ledger)
	receiver := l.CreateAccount(ledger.MustParsePrivateKey(receiverKeyHex), 0)
	require.NoError(t, l.Associate(receiver, a.Transfer.DefaultToken()))

	out := &bytes.Buffer{}
	return newRunner(cfg, a, out), out, receiver
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), memoryConfig(), []string{"launch"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, `unknown command "launch"`)

	err = run(context.Background(), memoryConfig(), nil, &bytes.Buffer{})
	assert.ErrorContains(t, err, "usage")
}

func TestRun_Balance(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, run(context.Background(), memoryConfig(), []string{"balance"}, out))
	assert.Contains(t, out.String(), "HBAR Balance")
	assert.Contains(t, out.String(), "Token "+config.DefaultTokenID)
}

func TestTransferCommand(t *testing.T) {
	c, out, receiver := newCLI(t)
	err := runTransfer(context.Background(), c, []string{"-to", receiver.String(), "-amount", "250"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Submitting transfer...\n✓ SUCCESS")
	assert.Contains(t, out.String(), "Token Transfer")
	assert.Contains(t, out.String(), ledger.DefaultExplorerBaseURL)
	l := c.app.Connector.Provider.(*memledger.Ledger)
	assert.Equal(t, int64(250), l.TokenBalance(receiver, c.app.Transfer.DefaultToken()))
}

func TestTransferCommand_Validation(t *testing.T) {
	c, _, receiver := newCLI(t)
	ctx := context.Background()

	assert.ErrorContains(t, runTransfer(ctx, c, []string{"-amount", "1"}), "-to is required")
	assert.Error(t, runTransfer(ctx, c, []string{"-to", receiver.String(), "-amount", "1.5"}))
	assert.Error(t, runTransfer(ctx, c, []string{"-to", receiver.String(), "-amount", "0"}))
	assert.Error(t, runTransfer(ctx, c, []string{"-to", receiver.String(), "-amount", "1", "-key", "nothex"}))
	assert.Zero(t, c.app.Connector.Provider.(*memledger.Ledger).Calls().Transfer)
}

func TestBatchCommand(t *testing.T) {
	c, out, receiver := newCLI(t)
	path := filepath.Join(t.TempDir(), "batch.yaml")
	content := "- receiverId: " + receiver.String() + "\n  amount: 10\n" +
		"- receiverId: " + receiver.String() + "\n  amount: \"15\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.NoError(t, runBatch(context.Background(), c, []string{"-file", path}))
	assert.Contains(t, out.String(), "Number of transfers")
	l := c.app.Connector.Provider.(*memledger.Ledger)
	assert.Equal(t, int64(25), l.TokenBalance(receiver, c.app.Transfer.DefaultToken()))
}

func TestLoadBatch_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"tokenId":"0.0.5","senderId":"0.0.7","senderKey":"`+receiverKeyHex+`","receiverId":"0.0.8","amount":3}]`), 0o600))

	specs, err := loadBatch(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "0.0.5", specs[0].Token)
	assert.Equal(t, int64(3), specs[0].Amount)
	assert.False(t, specs[0].SenderKey.IsZero())
}

func TestLoadBatch_BadEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- receiverId: 0.0.8\n  amount: lots\n"), 0o600))
	_, err := loadBatch(path)
	assert.ErrorContains(t, err, "transfer 0")
}

func TestTopicCommand_MemoryNetwork(t *testing.T) {
	c, _, _ := newCLI(t)
	assert.ErrorContains(t, runTopic(context.Background(), c, nil), "mirror node")
}

func TestExampleCommand(t *testing.T) {
	c, out, receiver := newCLI(t)
	err := runExample(context.Background(), c, []string{"-to", receiver.String(), "-amount", "1000", "-wait", "0s"})
	require.NoError(t, err)

	for _, step := range []string{"Step 1", "Step 2", "Step 3", "Step 4", "Step 5"} {
		assert.Contains(t, out.String(), step)
	}
	assert.Contains(t, out.String(), "Balance                  : 1000")
}
