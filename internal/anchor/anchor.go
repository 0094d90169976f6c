// Package anchor submits whistleblower reports to a consensus topic and
// returns the ledger's confirmation.
package anchor

import (
	"context"
	"fmt"
	"time"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
	"github.com/whistlenet/hcs-relay/internal/metrics"
)

// TopicResolver yields the topic reports are anchored to.
type TopicResolver interface {
	EnsureTopic(ctx context.Context) (ledger.TopicID, error)
}

// Receipt is the outcome of one accepted submission. It is returned to the
// caller and not persisted here.
type Receipt struct {
	TopicID            string `json:"topicId,omitempty"`
	TransactionID      string `json:"transactionId"`
	Status             string `json:"status"`
	Message            string `json:"message"`
	HashscanURL        string `json:"hashscanUrl"`
	ConsensusTimestamp string `json:"consensusTimestamp"`
}

// Config configures a Service.
type Config struct {
	Connector ledger.Connector
	Topics    TopicResolver
	Explorer  ledger.Explorer
	Logger    *logging.Logger
}

// Service anchors messages. Submissions are never deduplicated: the same
// message sent twice yields two transactions.
type Service struct {
	conn     ledger.Connector
	topics   TopicResolver
	explorer ledger.Explorer
	log      *logging.Logger
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Connector.Provider == nil {
		return nil, fmt.Errorf("anchor service: ledger provider required")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("anchor")
	}
	return &Service{conn: cfg.Connector, topics: cfg.Topics, explorer: cfg.Explorer, log: log}, nil
}

// Submit anchors message to the relay's topic, creating it on first use.
func (s *Service) Submit(ctx context.Context, message string) (Receipt, error) {
	if err := validateMessage(message); err != nil {
		return Receipt{}, err
	}
	if s.topics == nil {
		return Receipt{}, fmt.Errorf("anchor service: no topic resolver configured")
	}
	topicID, err := s.topics.EnsureTopic(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return s.SubmitTo(ctx, topicID, message)
}

// SubmitTo anchors message to an explicit topic. It blocks until the
// network reaches consensus on the submission, typically several seconds.
func (s *Service) SubmitTo(ctx context.Context, topicID ledger.TopicID, message string) (Receipt, error) {
	if err := validateMessage(message); err != nil {
		return Receipt{}, err
	}
	if topicID.IsZero() {
		return Receipt{}, svcerrors.Validation("topicId is required").WithDetail("field", "topicId")
	}

	start := time.Now()
	r, err := ledger.Do(ctx, s.conn, "submit message", func(sess ledger.Session) (ledger.Receipt, error) {
		r, err := sess.SubmitMessage(ctx, topicID, []byte(message))
		if err != nil {
			return r, ledger.Classify("submit message", err)
		}
		return r, nil
	})
	metrics.RecordLedgerOperation("submit_message", err, time.Since(start))
	if err != nil {
		s.log.Error(ctx, "anchoring message failed", map[string]interface{}{
			"topic_id": topicID.String(),
			"error":    err.Error(),
		})
		return Receipt{}, err
	}

	receipt := Receipt{
		TopicID:            topicID.String(),
		TransactionID:      r.TransactionID,
		Status:             r.Status,
		Message:            message,
		HashscanURL:        s.explorer.TransactionURL(r.TransactionID),
		ConsensusTimestamp: ledger.FormatTimestamp(r.ConsensusTimestamp),
	}
	s.log.Info(ctx, "message anchored", map[string]interface{}{
		"topic_id":            receipt.TopicID,
		"transaction_id":      receipt.TransactionID,
		"status":              receipt.Status,
		"consensus_timestamp": receipt.ConsensusTimestamp,
		"hashscan_url":        receipt.HashscanURL,
		"bytes":               len(message),
	})
	return receipt, nil
}

func validateMessage(message string) error {
	if message == "" {
		return svcerrors.Validation("message is required").WithDetail("field", "message")
	}
	return nil
}
