package model

import (
	"encoding/json"
	"errors"
)

// ItemResult is the outcome for one input item: exactly one of Result or Error is set.
// Use OkItem and ErrItem to construct values.
type ItemResult struct {
	Index  int             `json:"index"`
	Input  json.RawMessage `json:"input"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

var (
	// ErrItemResultAmbiguous is returned when both result and error are populated.
	ErrItemResultAmbiguous = errors.New("item result has both result and error")
	// ErrItemResultEmpty is returned when neither result nor error is populated.
	ErrItemResultEmpty = errors.New("item result has neither result nor error")
)

// OkItem builds a successful item result.
func OkItem(index int, input, result json.RawMessage) ItemResult {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return ItemResult{Index: index, Input: input, Result: result}
}

// ErrItem builds a failed item result.
func ErrItem(index int, input json.RawMessage, msg string) ItemResult {
	if msg == "" {
		msg = "item processing failed"
	}
	return ItemResult{Index: index, Input: input, Error: &msg}
}

// IsOk reports whether the item carries a result.
func (r ItemResult) IsOk() bool { return r.Error == nil && len(r.Result) > 0 }

// Validate enforces that exactly one branch is populated.
func (r ItemResult) Validate() error {
	hasResult := len(r.Result) > 0
	hasErr := r.Error != nil
	switch {
	case hasResult && hasErr:
		return ErrItemResultAmbiguous
	case !hasResult && !hasErr:
		return ErrItemResultEmpty
	}
	return nil
}
