package entitlement

import (
	"errors"
	"fmt"
)

// Stable machine-readable rejection codes. Callers render upgrade or
// purchase prompts from these; the strings never change.
const (
	CodeModelNotFound     = "model_not_found"
	CodeModelNotAllowed   = "model_not_allowed"
	CodeInputTooLong      = "input_too_long"
	CodeDailyRequestLimit = "daily_request_limit"
	CodeInsufficientCreds = "insufficient_credits"
	CodeModelUnavailable  = "model_unavailable"
)

// Rejection is an entitlement rejection: detected before any
// persistence, returned synchronously, never retried.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Needed and Available carry the shortfall for credit rejections.
	Needed    int64 `json:"needed,omitempty"`
	Available int64 `json:"available,omitempty"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("entitlement rejected: %s", r.Code)
}

// AsRejection unwraps err into a Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
