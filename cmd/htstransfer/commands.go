package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whistlenet/hcs-relay/internal/balance"
	"github.com/whistlenet/hcs-relay/internal/httputil"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/ledger/hedera"
	"github.com/whistlenet/hcs-relay/internal/transfer"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func runTransfer(ctx context.Context, c *runner, args []string) error {
	fs := newFlagSet("transfer")
	to := fs.String("to", "", "receiver account id")
	amount := fs.String("amount", "", "amount in the token's smallest unit")
	token := fs.String("token", "", "token id (default: configured token)")
	from := fs.String("from", "", "sender account id (default: operator)")
	key := fs.String("key", "", "sender private key, required when -from is not the operator")
	if err := fs.Parse(args); err != nil {
		return err
	}

	spec, err := buildSpec(*token, *from, *key, *to, *amount)
	if err != nil {
		return err
	}
	var res transfer.Result
	err = c.pending("Submitting transfer", func() (string, error) {
		res, err = c.app.Transfer.Transfer(ctx, spec)
		return res.Status, err
	})
	if err != nil {
		return err
	}
	c.printTransfer(res)
	return nil
}

func buildSpec(token, from, key, to, amount string) (transfer.Spec, error) {
	if to == "" {
		return transfer.Spec{}, errors.New("-to is required")
	}
	n, err := ledger.ParseAmount(amount)
	if err != nil {
		return transfer.Spec{}, err
	}
	spec := transfer.Spec{Receiver: to, Amount: int64(n)}
	if token != "" {
		spec.Token = token
	}
	if from != "" {
		spec.Sender = from
	}
	if key != "" {
		k, err := ledger.ParsePrivateKey(key)
		if err != nil {
			return transfer.Spec{}, fmt.Errorf("sender key: %w", err)
		}
		spec.SenderKey = k
	}
	return spec, nil
}

func (c *runner) printTransfer(res transfer.Result) {
	c.banner("Token Transfer")
	c.field("Token ID", res.TokenID)
	c.field("From Account", res.FromAccount)
	c.field("To Account", res.ToAccount)
	c.field("Amount", res.Amount)
	c.field("Receipt status", res.Status)
	c.field("Transaction ID", res.TransactionID)
	c.field("Hashscan URL", res.HashscanURL)
}

func runBalance(ctx context.Context, c *runner, args []string) error {
	fs := newFlagSet("balance")
	account := fs.String("account", "", "account id (default: operator)")
	token := fs.String("token", "", "only show this token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	acct := interface{}(c.app.Connector.Operator.Account)
	if *account != "" {
		acct = *account
	}

	if *token != "" {
		tb, err := c.app.Balance.TokenBalance(ctx, acct, *token)
		if err != nil {
			return err
		}
		c.printTokenBalance(tb)
		return nil
	}
	snap, err := c.app.Balance.Snapshot(ctx, acct)
	if err != nil {
		return err
	}
	c.printSnapshot(snap)
	return nil
}

func (c *runner) printTokenBalance(tb balance.TokenBalance) {
	c.banner("Token Balance")
	c.field("Account ID", tb.AccountID)
	c.field("Token ID", tb.TokenID)
	c.field("Balance", tb.Balance)
}

func (c *runner) printSnapshot(s balance.Snapshot) {
	c.banner("Account Balance")
	c.field("Account ID", s.AccountID)
	c.field("HBAR Balance", s.HbarBalance)
	if len(s.TokenBalances) == 0 {
		c.field("Tokens", "none")
		return
	}
	for _, id := range s.SortedTokens() {
		c.field("Token "+id, s.TokenBalances[id])
	}
}

// batchEntry is one line of a batch file. Amount is read as a string so
// both quoted and bare integers are accepted.
type batchEntry struct {
	TokenID    string `yaml:"tokenId"`
	SenderID   string `yaml:"senderId"`
	SenderKey  string `yaml:"senderKey"`
	ReceiverID string `yaml:"receiverId"`
	Amount     string `yaml:"amount"`
}

// loadBatch reads a YAML or JSON list of transfers.
func loadBatch(path string) ([]transfer.Spec, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var entries []batchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse batch file %s: %w", path, err)
	}
	specs := make([]transfer.Spec, 0, len(entries))
	for i, e := range entries {
		spec, err := buildSpec(e.TokenID, e.SenderID, e.SenderKey, e.ReceiverID, e.Amount)
		if err != nil {
			return nil, fmt.Errorf("transfer %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func runBatch(ctx context.Context, c *runner, args []string) error {
	fs := newFlagSet("batch")
	file := fs.String("file", "", "YAML or JSON list of transfers")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}
	specs, err := loadBatch(*file)
	if err != nil {
		return err
	}
	var res transfer.BatchResult
	err = c.pending(fmt.Sprintf("Submitting %d transfers", len(specs)), func() (string, error) {
		res, err = c.app.Transfer.TransferBatch(ctx, specs)
		return res.Status, err
	})
	if err != nil {
		return err
	}
	c.banner("Multiple Token Transfer")
	c.field("Number of transfers", res.TransfersCount)
	c.field("Receipt status", res.Status)
	c.field("Transaction ID", res.TransactionID)
	c.field("Hashscan URL", res.HashscanURL)
	return nil
}

func runTopic(ctx context.Context, c *runner, args []string) error {
	fs := newFlagSet("topic")
	id := fs.String("id", "", "topic id (default: the relay's cached topic)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.cfg.IsMemory() {
		return errors.New("topic lookup needs a mirror node; not available on the memory network")
	}

	var topicID ledger.TopicID
	if *id != "" {
		parsed, err := ledger.ParseTopicID(*id)
		if err != nil {
			return err
		}
		topicID = parsed
	} else {
		cached, ok, err := c.app.Topics.Cached(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no cached topic; pass -id")
		}
		topicID = cached
	}

	mirrorURL := c.cfg.Ledger.MirrorNodeURL
	if mirrorURL == "" {
		mirrorURL = hedera.DefaultMirrorURL(c.cfg.Ledger.Network)
	}
	mirror := hedera.NewMirrorClient(httputil.Config{BaseURL: mirrorURL, UserAgent: "htstransfer"})
	info, found, err := mirror.Topic(ctx, topicID)
	if err != nil {
		return err
	}
	c.banner("Topic")
	c.field("Topic ID", topicID)
	if !found {
		c.printer.Warning("topic not found on the mirror node")
		return nil
	}
	c.field("Memo", info.Memo)
	c.field("Created", info.CreatedTimestamp)
	c.field("Deleted", info.Deleted)
	return nil
}

// runExample checks both balances, transfers, waits for the mirror to
// catch up and checks both balances again.
func runExample(ctx context.Context, c *runner, args []string) error {
	fs := newFlagSet("example")
	to := fs.String("to", "", "receiver account id")
	amount := fs.Int64("amount", 1000, "amount of the configured token to send")
	wait := fs.Duration("wait", 2*time.Second, "pause before re-reading balances")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" {
		return errors.New("-to is required")
	}
	operator := c.app.Connector.Operator.Account

	fmt.Fprintln(c.out, "Step 1: Checking sender balance...")
	if err := c.showDefaultBalance(ctx, operator); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Step 2: Checking receiver balance...")
	if err := c.showDefaultBalance(ctx, *to); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Step 3: Transferring %d tokens...\n", *amount)
	var res transfer.Result
	err := c.pending("Submitting transfer", func() (string, error) {
		var err error
		res, err = c.app.Transfer.TransferDefaultToken(ctx, *to, *amount)
		return res.Status, err
	})
	if err != nil {
		return err
	}
	c.printTransfer(res)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(*wait):
	}

	fmt.Fprintln(c.out, "Step 4: Checking sender balance after transfer...")
	if err := c.showDefaultBalance(ctx, operator); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Step 5: Checking receiver balance after transfer...")
	return c.showDefaultBalance(ctx, *to)
}

func (c *runner) showDefaultBalance(ctx context.Context, account interface{}) error {
	tb, err := c.app.Balance.DefaultTokenBalance(ctx, account)
	if err != nil {
		return err
	}
	c.printTokenBalance(tb)
	return nil
}
