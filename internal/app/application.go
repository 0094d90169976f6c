package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/whistlenet/hcs-relay/internal/anchor"
	"github.com/whistlenet/hcs-relay/internal/balance"
	"github.com/whistlenet/hcs-relay/internal/config"
	"github.com/whistlenet/hcs-relay/internal/httpapi"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/ledger/hedera"
	"github.com/whistlenet/hcs-relay/internal/logging"
	"github.com/whistlenet/hcs-relay/internal/middleware"
	"github.com/whistlenet/hcs-relay/internal/topic"
	"github.com/whistlenet/hcs-relay/internal/topic/store"
	"github.com/whistlenet/hcs-relay/internal/transfer"
)

// limiterIdle is how long a client's rate limiter survives without traffic.
const limiterIdle = 5 * time.Minute

// Application ties the relay's services together and manages the HTTP
// server lifecycle.
type Application struct {
	cfg config.Config
	log *logging.Logger

	Connector ledger.Connector
	Store     store.KV
	Topics    *topic.Manager
	Anchor    *anchor.Service
	Transfer  *transfer.Engine
	Balance   *balance.Service
	Auditor   *balance.Auditor

	handler http.Handler
	limiter *middleware.RateLimiter
	server  *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a fully wired application from cfg.
func New(ctx context.Context, cfg config.Config) (*Application, error) {
	log := logging.New("relay", logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	token, err := cfg.Token()
	if err != nil {
		return nil, err
	}
	conn, err := buildConnector(cfg, token, log)
	if err != nil {
		return nil, fmt.Errorf("configure ledger: %w", err)
	}

	kv, err := store.Open(ctx, store.Config{
		Backend:     cfg.Topic.Store,
		Path:        cfg.Topic.StorePath,
		RedisAddr:   cfg.Topic.RedisAddr,
		RedisPrefix: cfg.Topic.RedisPrefix,
		DSN:         cfg.Topic.DatabaseDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open topic store: %w", err)
	}

	a := &Application{cfg: cfg, log: log, Connector: conn, Store: kv}
	if err := a.buildServices(token); err != nil {
		_ = kv.Close()
		return nil, err
	}

	a.handler, a.limiter = httpapi.NewHandler(httpapi.Services{
		Topics:   a.Topics,
		Anchor:   a.Anchor,
		Transfer: a.Transfer,
		Balance:  a.Balance,
	}, httpapi.Options{
		Logger:         log.Named("http"),
		Network:        cfg.Ledger.Network,
		CORSOrigins:    cfg.AllowedOrigins(),
		RateLimit:      cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
	})
	a.server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      a.handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}
	return a, nil
}

func buildConnector(cfg config.Config, token ledger.TokenID, log *logging.Logger) (ledger.Connector, error) {
	if cfg.IsMemory() {
		provider, operator, err := newMemoryLedger(cfg, token)
		if err != nil {
			return ledger.Connector{}, err
		}
		log.Warn(context.Background(), "using in-process ledger; nothing is anchored on a real network", map[string]interface{}{
			"operator_account_id": operator.Account.String(),
			"token_id":            token.String(),
		})
		return ledger.Connector{Provider: provider, Operator: operator, Log: log.Named("ledger")}, nil
	}

	operator, err := cfg.Operator()
	if err != nil {
		return ledger.Connector{}, err
	}
	provider, err := hedera.NewProvider(hedera.Config{
		Network:        cfg.Ledger.Network,
		MirrorURL:      cfg.Ledger.MirrorNodeURL,
		RequestTimeout: cfg.Ledger.RequestTimeout,
		Logger:         log.Named("hedera"),
	})
	if err != nil {
		return ledger.Connector{}, err
	}
	return ledger.Connector{Provider: provider, Operator: operator, Log: log.Named("ledger")}, nil
}

func (a *Application) buildServices(token ledger.TokenID) error {
	explorer := ledger.Explorer{BaseURL: a.cfg.Ledger.ExplorerBaseURL}

	topics, err := topic.NewManager(topic.Config{
		Connector:     a.Connector,
		Store:         a.Store,
		Memo:          a.cfg.Topic.Memo,
		CreateTimeout: 2 * a.cfg.Ledger.RequestTimeout,
		Explorer:      explorer,
		Logger:        a.log.Named("topic"),
	})
	if err != nil {
		return err
	}
	anchorSvc, err := anchor.New(anchor.Config{
		Connector: a.Connector,
		Topics:    topics,
		Explorer:  explorer,
		Logger:    a.log.Named("anchor"),
	})
	if err != nil {
		return err
	}
	engine, err := transfer.NewEngine(transfer.Config{
		Connector:    a.Connector,
		Explorer:     explorer,
		DefaultToken: token,
		Logger:       a.log.Named("transfer"),
	})
	if err != nil {
		return err
	}
	balances, err := balance.New(balance.Config{
		Connector:    a.Connector,
		DefaultToken: token,
		Logger:       a.log.Named("balance"),
	})
	if err != nil {
		return err
	}

	a.Topics, a.Anchor, a.Transfer, a.Balance = topics, anchorSvc, engine, balances

	if a.cfg.Audit.Schedule != "" {
		auditor, err := balance.NewAuditor(balances, balance.AuditConfig{
			Schedule: a.cfg.Audit.Schedule,
			Account:  a.Connector.Operator.Account,
			Token:    token,
			Logger:   a.log.Named("balance-audit"),
		})
		if err != nil {
			return err
		}
		a.Auditor = auditor
	}
	return nil
}

// Handler returns the HTTP handler, middleware included.
func (a *Application) Handler() http.Handler { return a.handler }

// Run listens on the configured address and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.Auditor != nil {
		a.Auditor.Start()
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(gctx, limiterIdle)
	}

	g.Go(func() error {
		a.log.Info(ctx, "http server listening", map[string]interface{}{
			"addr":    ln.Addr().String(),
			"network": a.cfg.Ledger.Network,
		})
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops the server, the auditor and the store. It is safe to
// call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		var errs []error
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
		if a.Auditor != nil {
			if err := a.Auditor.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop balance auditor: %w", err))
			}
		}
		if err := a.Store.Close(); err != nil {
			a.log.Warn(ctx, "closing topic store failed", map[string]interface{}{"error": err.Error()})
		}
		a.shutdownErr = errors.Join(errs...)
		a.log.Info(ctx, "relay stopped", nil)
	})
	return a.shutdownErr
}
