package ledger

import (
	"errors"
	"fmt"

	svcerrors "github.com/whistlenet/hcs-relay/internal/errors"
)

// StatusError is a non-success status the network returned for a transaction.
type StatusError struct {
	Status        string
	TransactionID string
}

func (e *StatusError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("transaction failed with status %s", e.Status)
	}
	return fmt.Sprintf("transaction %s failed with status %s", e.TransactionID, e.Status)
}

// IsStatus reports whether err carries the given ledger status.
func IsStatus(err error, status string) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

// Classify maps a raw session error into the service taxonomy: ledger
// statuses become LedgerRejection, service errors pass through, anything
// else is a connectivity failure.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := svcerrors.AsServiceError(err); ok {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		return svcerrors.LedgerRejection(op, err).WithDetail("status", se.Status)
	}
	return svcerrors.Connectivity(op, err)
}
