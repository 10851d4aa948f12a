package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the gateway and the consumer. Callers wrap them
// with fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	ErrSecretUnavailable    = errors.New("secret unavailable")
	ErrMissingHeader        = errors.New("missing verification header")
	ErrReplayWindowExceeded = errors.New("request timestamp outside replay window")
	ErrSignatureMismatch    = errors.New("signature mismatch")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrPublish              = errors.New("publish failed")
	ErrNotFound             = errors.New("no route")
)

// IsAuthError reports whether err is one of the request authentication failures.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingHeader) ||
		errors.Is(err, ErrReplayWindowExceeded) ||
		errors.Is(err, ErrSignatureMismatch)
}

// PartialDeliveryFailure is returned when at least one record of a batch
// could not be delivered. Records delivered before or alongside the failure
// are not rolled back.
type PartialDeliveryFailure struct {
	Index  int   // position of the first failed record in the batch
	Failed int   // number of failed records
	Total  int   // batch size
	Err    error // error of the first failed record
}

func (e *PartialDeliveryFailure) Error() string {
	return fmt.Sprintf("delivered %d/%d records, first failure at record %d: %v",
		e.Total-e.Failed, e.Total, e.Index, e.Err)
}

func (e *PartialDeliveryFailure) Unwrap() error { return e.Err }
