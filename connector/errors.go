package connector

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeProviderRequest = "connector_provider_request_failed"
	TextCodeAccountLookup   = "connector_account_lookup_failed"
	TextCodeAdapterMissing  = "connector_adapter_missing"
	TextCodeStorage         = "connector_storage_failed"
)

// ErrProviderRequest is returned when a provider API call fails outside
// of the code exchange.
var ErrProviderRequest = goerrors.New("provider request failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeProviderRequest).
	WithCode(goerrors.CodeInternal)

// ErrAccountLookup is returned when the accounts behind a grant cannot be listed.
var ErrAccountLookup = goerrors.New("failed to list connected accounts", goerrors.CategoryOperation).
	WithTextCode(TextCodeAccountLookup).
	WithCode(goerrors.CodeInternal)

// ErrAdapterMissing is returned when an enabled platform has no adapter.
var ErrAdapterMissing = goerrors.New("platform adapter not configured", goerrors.CategoryOperation).
	WithTextCode(TextCodeAdapterMissing).
	WithCode(goerrors.CodeNotFound)

// ErrStorage is returned when the connection repository fails.
var ErrStorage = goerrors.New("connection storage failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeStorage).
	WithCode(goerrors.CodeInternal)

// ProviderError captures normalized provider response details.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	switch {
	case e.Provider != "" && e.Operation != "":
		scope = e.Provider + " " + e.Operation
	case e.Provider != "":
		scope = e.Provider
	case e.Operation != "":
		scope = e.Operation
	}

	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return scope + " failed"
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Reason returns the provider's error code or a status derived one.
func (e *ProviderError) Reason() string {
	switch {
	case e == nil:
		return ""
	case e.Code != "":
		return e.Code
	case e.Status != 0:
		return fmt.Sprintf("http_%d", e.Status)
	}
	return "provider_error"
}

// Metadata returns the error details as go-errors metadata.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// WrapProviderError clones base with the provider details of err. The
// reason metadata is set from the provider error code so it can be shown
// to the user.
func WrapProviderError(base *goerrors.Error, provider, operation string, err error) error {
	if base == nil {
		return err
	}

	meta := map[string]any{}
	if provider != "" {
		meta["provider"] = provider
	}
	if operation != "" {
		meta["operation"] = operation
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		for k, v := range perr.Metadata() {
			meta[k] = v
		}
		meta["reason"] = perr.Reason()
	} else if err != nil {
		meta["error"] = err.Error()
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
	}
	clone.WithMetadata(meta)
	return clone
}
