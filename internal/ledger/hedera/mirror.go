package hedera

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
	"github.com/whistlenet/hcs-relay/internal/httputil"
	"github.com/whistlenet/hcs-relay/internal/ledger"
)

const (
	mirrorPageSize  = 100
	mirrorBodyLimit = 4 << 20
	// mirrorMaxPages stops a misbehaving next link from looping forever.
	mirrorMaxPages = 50
)

// MirrorClient reads from the mirror node REST API.
type MirrorClient struct {
	http *httputil.Client
}

// NewMirrorClient creates a mirror client.
func NewMirrorClient(cfg httputil.Config) *MirrorClient {
	return &MirrorClient{http: httputil.NewClient(cfg)}
}

// TokenBalances returns every token account holds, following pagination.
// A response that is not the expected shape is a data-shape error; an
// entry whose balance is missing or non-numeric is reported Absent.
func (m *MirrorClient) TokenBalances(ctx context.Context, account ledger.AccountID) (map[ledger.TokenID]ledger.Maybe[int64], error) {
	out := make(map[ledger.TokenID]ledger.Maybe[int64])
	next := fmt.Sprintf("/api/v1/accounts/%s/tokens?limit=%d", url.PathEscape(account.String()), mirrorPageSize)

	for page := 0; next != ""; page++ {
		if page >= mirrorMaxPages {
			return nil, fmt.Errorf("mirror: token balances for %s exceed %d pages", account, mirrorMaxPages)
		}
		body, err := m.http.GetBody(ctx, next, mirrorBodyLimit)
		if err != nil {
			return nil, fmt.Errorf("mirror: token balances for %s: %w", account, err)
		}
		if !gjson.ValidBytes(body) {
			return nil, svcerrors.DataShape("mirror token balances", fmt.Errorf("invalid json"))
		}
		doc := gjson.ParseBytes(body)
		tokens := doc.Get("tokens")
		if !tokens.IsArray() {
			return nil, svcerrors.DataShape("mirror token balances", fmt.Errorf("tokens is %s, want array", tokens.Type))
		}
		tokens.ForEach(func(_, entry gjson.Result) bool {
			id, err := ledger.ParseTokenID(entry.Get("token_id").String())
			if err != nil {
				return true
			}
			out[id] = balanceOf(entry.Get("balance"))
			return true
		})
		next = doc.Get("links.next").String()
	}
	return out, nil
}

func balanceOf(v gjson.Result) ledger.Maybe[int64] {
	if v.Type != gjson.Number {
		return ledger.Absent[int64]()
	}
	return ledger.Present(v.Int())
}

// TopicInfo is the subset of a mirror topic record the relay reads.
type TopicInfo struct {
	TopicID          string
	Memo             string
	Deleted          bool
	CreatedTimestamp string
}

// Topic looks up a topic. It reports found=false for a 404.
func (m *MirrorClient) Topic(ctx context.Context, topic ledger.TopicID) (TopicInfo, bool, error) {
	body, err := m.http.GetBody(ctx, "/api/v1/topics/"+url.PathEscape(topic.String()), mirrorBodyLimit)
	if err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return TopicInfo{}, false, nil
		}
		return TopicInfo{}, false, fmt.Errorf("mirror: topic %s: %w", topic, err)
	}
	doc := gjson.ParseBytes(body)
	if !doc.Get("topic_id").Exists() {
		return TopicInfo{}, false, svcerrors.DataShape("mirror topic", fmt.Errorf("topic_id missing"))
	}
	return TopicInfo{
		TopicID:          doc.Get("topic_id").String(),
		Memo:             doc.Get("memo").String(),
		Deleted:          doc.Get("deleted").Bool(),
		CreatedTimestamp: doc.Get("created_timestamp").String(),
	}, true, nil
}
