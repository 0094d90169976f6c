package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistlenet/hcs-relay/internal/anchor"
	"github.com/whistlenet/hcs-relay/internal/balance"
	"github.com/whistlenet/hcs-relay/internal/ledger"
	"github.com/whistlenet/hcs-relay/internal/ledger/memledger"
	"github.com/whistlenet/hcs-relay/internal/logging"
	"github.com/whistlenet/hcs-relay/internal/topic"
	"github.com/whistlenet/hcs-relay/internal/topic/store"
	"github.com/whistlenet/hcs-relay/internal/transfer"
)

const (
	operatorKeyHex = "65daa5b4616b0af96bea690f5c4afc0337a002bc7f5c3f2e28e575b9a253d31e"
	aliceKeyHex    = "1111111111111111111111111111111111111111111111111111111111111111"
)

type fixture struct {
	ledger   *memledger.Ledger
	handler  http.Handler
	operator ledger.Identity
	alice    ledger.Identity
	bob      ledger.AccountID
	token    ledger.TokenID
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	l := memledger.New()
	op := ledger.Identity{Key: ledger.MustParsePrivateKey(operatorKeyHex)}
	op.Account = l.CreateAccount(op.Key, 50*100_000_000)
	alice := ledger.Identity{Key: ledger.MustParsePrivateKey(aliceKeyHex)}
	alice.Account = l.CreateAccount(alice.Key, 0)
	bob := l.CreateAccount(ledger.MustParsePrivateKey("0x2222222222222222222222222222222222222222222222222222222222222222"), 0)

	token, err := l.CreateToken(op.Account, 1_000)
	require.NoError(t, err)
	require.NoError(t, l.Associate(alice.Account, token))
	require.NoError(t, l.Associate(bob, token))

	log := logging.Discard()
	conn := ledger.Connector{Provider: l, Operator: op, Log: log}
	explorer := ledger.Explorer{}

	topics, err := topic.NewManager(topic.Config{Connector: conn, Store: store.NewMemory(), Explorer: explorer, Logger: log})
	require.NoError(t, err)
	anchorSvc, err := anchor.New(anchor.Config{Connector: conn, Topics: topics, Explorer: explorer, Logger: log})
	require.NoError(t, err)
	engine, err := transfer.NewEngine(transfer.Config{Connector: conn, Explorer: explorer, DefaultToken: token, Logger: log})
	require.NoError(t, err)
	balances, err := balance.New(balance.Config{Connector: conn, DefaultToken: token, Logger: log})
	require.NoError(t, err)

	opts.Logger = log
	h, _ := NewHandler(Services{Topics: topics, Anchor: anchorSvc, Transfer: engine, Balance: balances}, opts)
	return fixture{ledger: l, handler: h, operator: op, alice: alice, bob: bob, token: token}
}

func (f fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   string                 `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var out response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateTopic(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodPost, "/api/hcs/create-topic", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.True(t, resp.Success)
	txID := resp.Data["transactionId"].(string)
	assert.Equal(t, ledger.DefaultExplorerBaseURL+txID, resp.Data["hashscanUrl"])
	assert.Equal(t, "SUCCESS", resp.Data["status"])
	assert.Equal(t, f.ledger.Topics()[0].String(), resp.Data["topicId"])

	// The route always creates; it does not consult the cache.
	f.do(t, http.MethodPost, "/api/hcs/create-topic", nil)
	assert.Len(t, f.ledger.Topics(), 2)
}

func TestCreateTopic_Failure(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.FailOpen(assert.AnError)
	rec := f.do(t, http.MethodPost, "/api/hcs/create-topic", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, assert.AnError.Error())
}

func TestSubmitMessage_MissingFields(t *testing.T) {
	f := newFixture(t, Options{})
	for name, body := range map[string]interface{}{
		"empty body":    nil,
		"empty object":  map[string]string{},
		"no message":    map[string]string{"topicId": "0.0.1001"},
		"no topic":      map[string]string{"message": "report"},
		"blank message": map[string]string{"topicId": "0.0.1001", "message": ""},
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/hcs/submit-message", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"success":false,"error":"topicId and message are required"}`, rec.Body.String())
		})
	}
	assert.Zero(t, f.ledger.Calls().Open)
}

func TestSubmitMessage(t *testing.T) {
	f := newFixture(t, Options{})
	created := decode(t, f.do(t, http.MethodPost, "/api/hcs/create-topic", nil))
	topicID := created.Data["topicId"].(string)

	rec := f.do(t, http.MethodPost, "/api/hcs/submit-message", map[string]string{
		"topicId": topicID,
		"message": "the ledger is cooked",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "the ledger is cooked", resp.Data["message"])
	assert.Equal(t, "SUCCESS", resp.Data["status"])
	assert.NotEmpty(t, resp.Data["consensusTimestamp"])
	assert.Equal(t, ledger.DefaultExplorerBaseURL+resp.Data["transactionId"].(string), resp.Data["hashscanUrl"])
	assert.NotContains(t, resp.Data, "topicId")

	id, err := ledger.ParseTopicID(topicID)
	require.NoError(t, err)
	assert.Len(t, f.ledger.Messages(id), 1)
}

func TestSubmitMessage_WhitespaceIsNotMissing(t *testing.T) {
	f := newFixture(t, Options{})
	created := decode(t, f.do(t, http.MethodPost, "/api/hcs/create-topic", nil))
	topicID := created.Data["topicId"].(string)

	rec := f.do(t, http.MethodPost, "/api/hcs/submit-message", map[string]string{"topicId": topicID, "message": "  "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id, err := ledger.ParseTopicID(topicID)
	require.NoError(t, err)
	msgs := f.ledger.Messages(id)
	require.Len(t, msgs, 1)
	assert.Equal(t, "  ", string(msgs[0].Payload))

	rec = f.do(t, http.MethodPost, "/api/hcs/submit-message", map[string]string{"topicId": "  ", "message": "report"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Error, "invalid topicId")
}

func TestSubmitMessage_BadTopic(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/hcs/submit-message", map[string]string{"topicId": "not-a-topic", "message": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/hcs/submit-message", map[string]string{"topicId": "0.0.424242", "message": "x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec).Error, memledger.StatusInvalidTopicID)
}

func TestSubmitMessage_MalformedJSON(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodPost, "/api/hcs/submit-message", `{"topicId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decode(t, rec).Success)
}

func TestAnchorAndCachedTopic(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodGet, "/api/hcs/topic", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/hcs/anchor", map[string]string{"message": "first"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	topicID := decode(t, rec).Data["topicId"].(string)
	require.NotEmpty(t, topicID)

	rec = f.do(t, http.MethodPost, "/api/hcs/anchor", map[string]string{"message": "second"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, topicID, decode(t, rec).Data["topicId"])
	assert.Len(t, f.ledger.Topics(), 1)

	rec = f.do(t, http.MethodGet, "/api/hcs/topic", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, topicID, decode(t, rec).Data["topicId"])

	rec = f.do(t, http.MethodPost, "/api/hcs/anchor", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/hts/transfer", map[string]interface{}{
		"receiverId": f.alice.Account.String(),
		"amount":     10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, f.token.String(), resp.Data["tokenId"])
	assert.Equal(t, f.operator.Account.String(), resp.Data["fromAccount"])
	assert.EqualValues(t, 10, resp.Data["amount"])
	assert.Equal(t, ledger.DefaultExplorerBaseURL+resp.Data["transactionId"].(string), resp.Data["hashscanUrl"])
	assert.Equal(t, int64(10), f.ledger.TokenBalance(f.alice.Account, f.token))

	rec = f.do(t, http.MethodGet, "/api/hts/balance/"+f.alice.Account.String()+"?tokenId="+f.token.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", decode(t, rec).Data["balance"])

	// String amounts and an explicit sender with its key.
	rec = f.do(t, http.MethodPost, "/api/hts/transfer", map[string]interface{}{
		"tokenId":    f.token.String(),
		"senderId":   f.alice.Account.String(),
		"senderKey":  aliceKeyHex,
		"receiverId": f.bob.String(),
		"amount":     "4",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(6), f.ledger.TokenBalance(f.alice.Account, f.token))
	assert.Equal(t, int64(4), f.ledger.TokenBalance(f.bob, f.token))
}

func TestTransfer_Validation(t *testing.T) {
	f := newFixture(t, Options{})
	for name, body := range map[string]string{
		"zero amount":     `{"receiverId":"0.0.1002","amount":0}`,
		"negative amount": `{"receiverId":"0.0.1002","amount":"-3"}`,
		"fractional":      `{"receiverId":"0.0.1002","amount":"1.5"}`,
		"no receiver":     `{"amount":1}`,
		"bad receiver":    `{"receiverId":"alice","amount":1}`,
		"bad key":         `{"senderId":"0.0.1002","senderKey":"zz","receiverId":"0.0.1003","amount":1}`,
		"missing key":     `{"senderId":"0.0.1002","receiverId":"0.0.1003","amount":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/hts/transfer", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "zz")
		})
	}
	assert.Zero(t, f.ledger.Calls().Transfer)
}

func TestTransfer_Rejected(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodPost, "/api/hts/transfer", map[string]interface{}{
		"receiverId": f.alice.Account.String(),
		"amount":     5_000,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec).Error, memledger.StatusInsufficientTokenBalance)
}

func TestTransferBatch(t *testing.T) {
	f := newFixture(t, Options{})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/hts/transfer", map[string]interface{}{
		"receiverId": f.alice.Account.String(), "amount": 20,
	}).Code)

	rec := f.do(t, http.MethodPost, "/api/hts/transfer-batch", map[string]interface{}{
		"transfers": []map[string]interface{}{
			{"receiverId": f.bob.String(), "amount": 7},
			{"senderId": f.alice.Account.String(), "senderKey": aliceKeyHex, "receiverId": f.bob.String(), "amount": "5"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.EqualValues(t, 2, resp.Data["transfersCount"])
	assert.Equal(t, int64(12), f.ledger.TokenBalance(f.bob, f.token))
	assert.Equal(t, int64(15), f.ledger.TokenBalance(f.alice.Account, f.token))
}

func TestTransferBatch_Invalid(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/hts/transfer-batch", map[string]interface{}{"transfers": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/hts/transfer-batch", `{"transfers":[{"receiverId":"0.0.1002","amount":1},{"senderKey":"nope","receiverId":"0.0.1002","amount":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Error, "transfers[1]")
	assert.Zero(t, f.ledger.Calls().Transfer)
}

func TestTransferBatch_AmountOverflow(t *testing.T) {
	f := newFixture(t, Options{})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/hts/transfer", map[string]interface{}{
		"receiverId": f.alice.Account.String(), "amount": 100,
	}).Code)
	const bobKeyHex = "2222222222222222222222222222222222222222222222222222222222222222"
	maxAmount := strconv.FormatInt(math.MaxInt64, 10)

	rec := f.do(t, http.MethodPost, "/api/hts/transfer-batch", map[string]interface{}{
		"transfers": []map[string]interface{}{
			{"senderId": f.alice.Account.String(), "senderKey": bobKeyHex, "receiverId": f.bob.String(), "amount": maxAmount},
			{"senderId": f.alice.Account.String(), "senderKey": bobKeyHex, "receiverId": f.operator.Account.String(), "amount": maxAmount},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Contains(t, resp.Error, "transfers[1]")
	assert.Contains(t, resp.Error, "overflows")

	// amounts past the int64 range never decode
	rec = f.do(t, http.MethodPost, "/api/hts/transfer-batch",
		`{"transfers":[{"receiverId":"`+f.bob.String()+`","amount":"9223372036854775808"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/hts/transfer",
		`{"receiverId":"`+f.bob.String()+`","amount":9223372036854775808}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	assert.Equal(t, 1, f.ledger.Calls().Transfer)
	assert.Equal(t, int64(100), f.ledger.TokenBalance(f.alice.Account, f.token))
	assert.Zero(t, f.ledger.TokenBalance(f.bob, f.token))
}

func TestBalance(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodGet, "/api/hts/balance/"+f.operator.Account.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "50 ℏ", resp.Data["hbarBalance"])
	assert.Equal(t, map[string]interface{}{f.token.String(): "1000"}, resp.Data["tokenBalances"])

	rec = f.do(t, http.MethodGet, "/api/hts/balance/"+f.alice.Account.String()+"?tokenId=0.0.9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", decode(t, rec).Data["balance"])

	rec = f.do(t, http.MethodGet, "/api/hts/balance/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/hts/balance/0.0.424242", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthAndRouting(t *testing.T) {
	f := newFixture(t, Options{Network: "memory"})

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "memory", decode(t, rec).Data["network"])
	assert.NotEmpty(t, rec.Header().Get(logging.TraceHeader))

	rec = f.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decode(t, rec).Success)

	rec = f.do(t, http.MethodGet, "/api/hcs/create-topic", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTraceIDPropagates(t *testing.T) {
	f := newFixture(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(logging.TraceHeader, "trace-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(logging.TraceHeader))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 1, RateLimitBurst: 1})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.False(t, decode(t, rec).Success)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Options{CORSOrigins: []string{"https://whistle.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/hcs/submit-message", nil)
	req.Header.Set("Origin", "https://whistle.example")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://whistle.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandlerHonoursCancelledContext(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/hcs/create-topic", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, f.ledger.Calls().Open)
}
