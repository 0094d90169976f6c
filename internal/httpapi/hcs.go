package httpapi

import (
	"net/http"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/ledger"
)

// errMissingSubmitFields is the exact body browser clients match on.
const errMissingSubmitFields = "topicId and message are required"

type submitResponse struct {
	TransactionID      string `json:"transactionId"`
	Status             string `json:"status"`
	Message            string `json:"message"`
	HashscanURL        string `json:"hashscanUrl"`
	ConsensusTimestamp string `json:"consensusTimestamp"`
}

// createTopic always creates a new topic. Reuse is the caller's decision.
func (h *handler) createTopic(w http.ResponseWriter, r *http.Request) {
	created, err := h.svc.Topics.CreateTopic(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (h *handler) submitMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TopicID string `json:"topicId"`
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if payload.TopicID == "" || payload.Message == "" {
		writeFailure(w, http.StatusBadRequest, errMissingSubmitFields)
		return
	}
	topicID, err := ledger.ParseTopicID(payload.TopicID)
	if err != nil {
		h.writeError(w, r, svcerrors.Validationf("invalid topicId: %v", err))
		return
	}

	receipt, err := h.svc.Anchor.SubmitTo(r.Context(), topicID, payload.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		TransactionID:      receipt.TransactionID,
		Status:             receipt.Status,
		Message:            receipt.Message,
		HashscanURL:        receipt.HashscanURL,
		ConsensusTimestamp: receipt.ConsensusTimestamp,
	})
}

// anchorMessage submits to the relay's own topic, creating it on first use.
func (h *handler) anchorMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	receipt, err := h.svc.Anchor.Submit(r.Context(), payload.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *handler) cachedTopic(w http.ResponseWriter, r *http.Request) {
	id, ok, err := h.svc.Topics.Cached(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, r, svcerrors.NotFound("no topic has been created yet"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"topicId": id.String()})
}
