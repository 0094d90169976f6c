package ledger

import "strings"

// DefaultExplorerBaseURL is the transaction page prefix external tooling
// parses. Keep it byte-for-byte.
const DefaultExplorerBaseURL = "https://hashscan.io/testnet/transaction/"

// Explorer builds human-readable links to transactions.
type Explorer struct {
	BaseURL string
}

// TransactionURL concatenates the base URL and the transaction id.
func (e Explorer) TransactionURL(transactionID string) string {
	base := e.BaseURL
	if strings.TrimSpace(base) == "" {
		base = DefaultExplorerBaseURL
	}
	return base + transactionID
}
