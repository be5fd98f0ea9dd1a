package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx answer from the connector backend.
type APIError struct {
	Status   int    `json:"-"`
	Message  string `json:"error"`
	TextCode string `json:"text_code,omitempty"`
	Detail   string `json:"reason,omitempty"`
}

func (e *APIError) Error() string {
	if e.TextCode != "" {
		return fmt.Sprintf("connector backend %d %s: %s", e.Status, e.TextCode, e.Message)
	}
	return fmt.Sprintf("connector backend %d: %s", e.Status, e.Message)
}

// Reason returns the most specific machine readable cause.
func (e *APIError) Reason() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.TextCode != "":
		return e.TextCode
	default:
		return fmt.Sprintf("http_%d", e.Status)
	}
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = "request failed"
	}
	return apiErr
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}
