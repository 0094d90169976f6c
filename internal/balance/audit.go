package balance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
	"github.com/whistlenet/hcs-relay/internal/metrics"
)

// AuditConfig configures an Auditor.
type AuditConfig struct {
	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@every 5m".
	Schedule string
	Account  ledger.AccountID
	Token    ledger.TokenID
	Timeout  time.Duration
	Logger   *logging.Logger
}

// Auditor periodically publishes one account's token balance as a gauge.
type Auditor struct {
	svc     *Service
	cfg     AuditConfig
	log     *logging.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	last    TokenBalance
	lastErr error
}

// NewAuditor validates the schedule and returns a stopped Auditor.
func NewAuditor(svc *Service, cfg AuditConfig) (*Auditor, error) {
	if svc == nil {
		return nil, fmt.Errorf("balance auditor: service required")
	}
	if cfg.Account.IsZero() || cfg.Token.IsZero() {
		return nil, fmt.Errorf("balance auditor: account and token required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("balance-audit")
	}

	c := cron.New()
	a := &Auditor{svc: svc, cfg: cfg, log: log, cron: c}
	if _, err := c.AddFunc(cfg.Schedule, a.tick); err != nil {
		return nil, fmt.Errorf("balance auditor: schedule %q: %w", cfg.Schedule, err)
	}
	return a, nil
}

func (a *Auditor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()
	_, _ = a.RunOnce(logging.WithTraceID(ctx, logging.NewTraceID()))
}

// RunOnce performs a single audit immediately.
func (a *Auditor) RunOnce(ctx context.Context) (TokenBalance, error) {
	tb, err := a.svc.TokenBalance(ctx, a.cfg.Account, a.cfg.Token)

	a.mu.Lock()
	a.last, a.lastErr = tb, err
	a.mu.Unlock()

	if err != nil {
		a.log.Error(ctx, "balance audit failed", map[string]interface{}{
			"account_id": a.cfg.Account.String(),
			"token_id":   a.cfg.Token.String(),
			"error":      err.Error(),
		})
		return tb, err
	}
	if v, perr := strconv.ParseFloat(tb.Balance, 64); perr == nil {
		metrics.SetTokenBalance(tb.AccountID, tb.TokenID, v)
	}
	a.log.Info(ctx, "balance audited", map[string]interface{}{
		"account_id": tb.AccountID,
		"token_id":   tb.TokenID,
		"balance":    tb.Balance,
	})
	return tb, nil
}

// Last returns the most recent audit outcome.
func (a *Auditor) Last() (TokenBalance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.lastErr
}

// Start begins scheduled audits.
func (a *Auditor) Start() {
	a.cron.Start()
}

// Stop halts scheduling and waits for a running audit to finish or ctx to
// expire.
func (a *Auditor) Stop(ctx context.Context) error {
	done := a.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
