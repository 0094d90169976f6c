package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/transfer"
)

type transferRequest struct {
	TokenID    string        `json:"tokenId"`
	SenderID   string        `json:"senderId"`
	SenderKey  string        `json:"senderKey"`
	ReceiverID string        `json:"receiverId"`
	Amount     ledger.Amount `json:"amount"`
}

// spec converts the request. Blank token and sender fall back to the
// engine defaults. The key is never echoed in errors.
func (req transferRequest) spec() (transfer.Spec, error) {
	s := transfer.Spec{Amount: int64(req.Amount)}
	if v := strings.TrimSpace(req.TokenID); v != "" {
		s.Token = v
	}
	if v := strings.TrimSpace(req.SenderID); v != "" {
		s.Sender = v
	}
	if v := strings.TrimSpace(req.ReceiverID); v != "" {
		s.Receiver = v
	}
	if req.SenderKey != "" {
		key, err := ledger.ParsePrivateKey(req.SenderKey)
		if err != nil {
			return transfer.Spec{}, svcerrors.Validation("invalid senderKey").WithDetail("field", "senderKey")
		}
		s.SenderKey = key
	}
	return s, nil
}

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	var payload transferRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	spec, err := payload.spec()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Transfer.Transfer(r.Context(), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) transferBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Transfers []transferRequest `json:"transfers"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	specs := make([]transfer.Spec, 0, len(payload.Transfers))
	for i, req := range payload.Transfers {
		spec, err := req.spec()
		if err != nil {
			if se, ok := svcerrors.AsServiceError(err); ok {
				prefixIndex(se.WithDetail("index", i))
			}
			h.writeError(w, r, err)
			return
		}
		specs = append(specs, spec)
	}

	res, err := h.svc.Transfer.TransferBatch(r.Context(), specs)
	if err != nil {
		if se, ok := svcerrors.AsServiceError(err); ok && svcerrors.IsValidation(err) {
			prefixIndex(se)
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// prefixIndex names the offending entry in a batch validation message.
func prefixIndex(se *svcerrors.ServiceError) {
	if i, ok := se.Details["index"].(int); ok {
		se.Message = fmt.Sprintf("transfers[%d]: %s", i, se.Message)
	}
}

// balance serves one token position when tokenId is given, otherwise the
// full snapshot.
func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["accountId"]
	if token := strings.TrimSpace(r.URL.Query().Get("tokenId")); token != "" {
		res, err := h.svc.Balance.TokenBalance(r.Context(), account, token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	snap, err := h.svc.Balance.Snapshot(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
