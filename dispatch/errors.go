package dispatch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrSendFailure marks a delivery that failed for one recipient.
var ErrSendFailure = errors.New("send failure")

// SendError records a failed delivery to a single recipient.
// errors.Is(err, ErrSendFailure) holds for every SendError.
type SendError struct {
	Recipient uuid.UUID
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Recipient, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *SendError) Unwrap() []error {
	return []error{ErrSendFailure, e.Err}
}
