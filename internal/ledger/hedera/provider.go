// Package hedera implements ledger.Provider on the Hedera network through
// the official Go SDK. Token balances are read from the mirror node REST
// API, which reports them per account without the deprecated SDK map.
package hedera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/hashgraph/hedera-sdk-go/v2"

	"github.com/whistlenet/hcs-relay/internal/httputil"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
)

// Networks the provider can reach.
const (
	NetworkMainnet    = "mainnet"
	NetworkTestnet    = "testnet"
	NetworkPreviewnet = "previewnet"
)

// DefaultMirrorURL returns the public mirror node for network.
func DefaultMirrorURL(network string) string {
	switch network {
	case NetworkMainnet:
		return "https://mainnet-public.mirrornode.hedera.com"
	case NetworkPreviewnet:
		return "https://previewnet.mirrornode.hedera.com"
	default:
		return "https://testnet.mirrornode.hedera.com"
	}
}

// Config configures a Provider.
type Config struct {
	Network   string
	MirrorURL string
	// RequestTimeout bounds each SDK round trip.
	RequestTimeout time.Duration
	MirrorTimeout  time.Duration
	Logger         *logging.Logger
}

// Provider opens one SDK client per session.
type Provider struct {
	network        string
	requestTimeout time.Duration
	mirror         *MirrorClient
	log            *logging.Logger
}

var _ ledger.Provider = (*Provider)(nil)

// NewProvider validates cfg and returns a Provider.
func NewProvider(cfg Config) (*Provider, error) {
	network := strings.ToLower(strings.TrimSpace(cfg.Network))
	switch network {
	case NetworkMainnet, NetworkTestnet, NetworkPreviewnet:
	case "":
		network = NetworkTestnet
	default:
		return nil, fmt.Errorf("hedera: unsupported network %q", cfg.Network)
	}

	mirrorURL := cfg.MirrorURL
	if mirrorURL == "" {
		mirrorURL = DefaultMirrorURL(network)
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("hedera")
	}

	return &Provider{
		network:        network,
		requestTimeout: timeout,
		mirror:         NewMirrorClient(httputil.Config{BaseURL: mirrorURL, Timeout: cfg.MirrorTimeout, UserAgent: "hcs-relay"}),
		log:            log,
	}, nil
}

// Network returns the network name.
func (p *Provider) Network() string { return p.network }

// Mirror returns the mirror node client.
func (p *Provider) Mirror() *MirrorClient { return p.mirror }

// Open builds an SDK client for operator. The SDK dials lazily, so a
// reachable network is only confirmed by the first round trip.
func (p *Provider) Open(ctx context.Context, operator ledger.Identity) (ledger.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	account, err := toAccountID(operator.Account)
	if err != nil {
		return nil, err
	}
	key, err := toPrivateKey(operator.Key)
	if err != nil {
		return nil, err
	}

	client, err := sdk.ClientForName(p.network)
	if err != nil {
		return nil, fmt.Errorf("hedera client for %s: %w", p.network, err)
	}
	client.SetOperator(account, key)
	timeout := p.requestTimeout
	client.SetRequestTimeout(&timeout)

	return &session{client: client, operator: operator, mirror: p.mirror, log: p.log}, nil
}

// =============================================================================
// Conversions
// =============================================================================

func toAccountID(id ledger.AccountID) (sdk.AccountID, error) {
	return sdk.AccountIDFromString(id.String())
}

func toTokenID(id ledger.TokenID) (sdk.TokenID, error) {
	return sdk.TokenIDFromString(id.String())
}

func toTopicID(id ledger.TopicID) (sdk.TopicID, error) {
	return sdk.TopicIDFromString(id.String())
}

func fromTopicID(id sdk.TopicID) ledger.TopicID {
	return ledger.TopicID{Shard: id.Shard, Realm: id.Realm, Num: id.Topic}
}

func toPrivateKey(k ledger.PrivateKey) (sdk.PrivateKey, error) {
	if k.IsZero() {
		return sdk.PrivateKey{}, errors.New("hedera: private key missing")
	}
	switch k.Encoding() {
	case ledger.KeyDERHex:
		return sdk.PrivateKeyFromStringDer(k.Material())
	default:
		return sdk.PrivateKeyFromStringECDSA(k.Material())
	}
}

func transactionIDString(id sdk.TransactionID) string {
	if id.AccountID == nil || id.ValidStart == nil {
		return ""
	}
	return id.String()
}

// translateError turns SDK status errors into *ledger.StatusError so the
// services can tell rejections from connectivity failures.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pre sdk.ErrHederaPreCheckStatus
	if errors.As(err, &pre) {
		return &ledger.StatusError{Status: pre.Status.String(), TransactionID: transactionIDString(pre.TxID)}
	}
	var preP *sdk.ErrHederaPreCheckStatus
	if errors.As(err, &preP) && preP != nil {
		return &ledger.StatusError{Status: preP.Status.String(), TransactionID: transactionIDString(preP.TxID)}
	}
	var rec sdk.ErrHederaReceiptStatus
	if errors.As(err, &rec) {
		return &ledger.StatusError{Status: rec.Status.String(), TransactionID: transactionIDString(rec.TxID)}
	}
	var recP *sdk.ErrHederaReceiptStatus
	if errors.As(err, &recP) && recP != nil {
		return &ledger.StatusError{Status: recP.Status.String(), TransactionID: transactionIDString(recP.TxID)}
	}
	return err
}
