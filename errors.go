package bili_archiver

import (
	"errors"
	"fmt"
)

var (
	// ErrSigningKeyUnavailable means the mixin key could not be derived or is structurally invalid. Not retryable.
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
	ErrResponseParseFailed   = errors.New("failed to parse response")
	ErrContentLengthMissing  = errors.New("response has no content length")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrNoStreams             = errors.New("no playable streams")
)

// APIError is a request rejected by the platform, carrying its response code and message verbatim.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d", e.Code)
	}
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// IsAPIError returns the *APIError in err's chain, if there is one.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// TransferError is a fatal transfer failure. It matches ErrTransferFailed with errors.Is and unwraps to its cause.
type TransferError struct {
	URL string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%v: %v", ErrTransferFailed, e.Err)
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
