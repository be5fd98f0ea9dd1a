package connect

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodePlatformNotFound   = "connect_platform_not_found"
	TextCodePlatformDisabled   = "connect_platform_disabled"
	TextCodeDuplicatePlatform  = "connect_duplicate_platform"
	TextCodeInvalidState       = "connect_invalid_state"
	TextCodeStateExpired       = "connect_state_expired"
	TextCodeStateReused        = "connect_state_reused"
	TextCodeAttemptNotFound    = "connect_attempt_not_found"
	TextCodeAttemptNotLive     = "connect_attempt_not_live"
	TextCodeInvalidTransition  = "connect_invalid_transition"
	TextCodeTerminalState      = "connect_terminal_state"
	TextCodeBackendUnavailable = "connect_backend_unavailable"
	TextCodeExchangeFailed     = "connect_exchange_failed"
	TextCodeChannelUnavailable = "connect_channel_unavailable"
	TextCodeUntrustedOrigin    = "connect_untrusted_origin"
	TextCodeInvalidMessage     = "connect_invalid_message"
	TextCodeInvalidConfig      = "connect_invalid_config"
	TextCodeUnauthenticated    = "connect_unauthenticated"
	TextCodeConnectionNotFound = "connect_connection_not_found"
)

// ErrPlatformNotFound is returned when a platform id is not in the registry.
var ErrPlatformNotFound = goerrors.New("platform not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodePlatformNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrPlatformDisabled is returned when a platform exists but cannot be connected.
var ErrPlatformDisabled = goerrors.New("platform is disabled", goerrors.CategoryValidation).
	WithTextCode(TextCodePlatformDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrDuplicatePlatform is returned when two descriptors share an id.
var ErrDuplicatePlatform = goerrors.New("duplicate platform id", goerrors.CategoryValidation).
	WithTextCode(TextCodeDuplicatePlatform).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidState is returned when an OAuth state is missing, tampered or unknown.
var ErrInvalidState = goerrors.New("invalid oauth state", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(goerrors.CodeBadRequest)

// ErrStateExpired is returned when an OAuth state is past its expiry.
var ErrStateExpired = goerrors.New("oauth state expired", goerrors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrStateReused is returned when an OAuth state is presented a second time.
var ErrStateReused = goerrors.New("oauth state already used", goerrors.CategoryConflict).
	WithTextCode(TextCodeStateReused).
	WithCode(goerrors.CodeConflict)

// ErrAttemptNotFound is returned when no attempt is recoverable for a state.
var ErrAttemptNotFound = goerrors.New("authorization attempt not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAttemptNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAttemptNotLive is returned when a result arrives for an attempt that was abandoned.
var ErrAttemptNotLive = goerrors.New("authorization attempt is no longer live", goerrors.CategoryConflict).
	WithTextCode(TextCodeAttemptNotLive).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when an attempt status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid attempt transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when moving away from a terminal attempt status.
var ErrTerminalState = goerrors.New("attempt is terminal", goerrors.CategoryConflict).
	WithTextCode(TextCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// ErrBackendUnavailable is returned when the connector backend cannot be reached.
var ErrBackendUnavailable = goerrors.New("connector backend unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeBackendUnavailable).
	WithCode(goerrors.CodeInternal)

// ErrExchangeFailed is returned when the code exchange is rejected.
var ErrExchangeFailed = goerrors.New("code exchange failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeExchangeFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrChannelUnavailable is returned when no session channel accepted a write.
var ErrChannelUnavailable = goerrors.New("no session channel available", goerrors.CategoryOperation).
	WithTextCode(TextCodeChannelUnavailable).
	WithCode(goerrors.CodeInternal)

// ErrUntrustedOrigin is returned for wildcard or unknown message origins.
var ErrUntrustedOrigin = goerrors.New("untrusted origin", goerrors.CategoryAuthz).
	WithTextCode(TextCodeUntrustedOrigin).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidMessage is returned for malformed cross-window messages.
var ErrInvalidMessage = goerrors.New("invalid message", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidMessage).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = goerrors.New("invalid configuration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(goerrors.CodeBadRequest)

// ErrUnauthenticated is returned when a request carries no user identity.
var ErrUnauthenticated = goerrors.New("authentication required", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrConnectionNotFound is returned when a connection record does not exist.
var ErrConnectionNotFound = goerrors.New("connection not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeConnectionNotFound).
	WithCode(goerrors.CodeNotFound)

// WrapError clones base, keeps err as its source and merges metadata.
// The clone carries the same text code, so HasTextCode keeps working.
func WrapError(base *goerrors.Error, err error, meta map[string]any) error {
	if base == nil {
		return err
	}

	merged := map[string]any{}
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich != nil && rich != base {
		for k, v := range rich.Metadata {
			merged[k] = v
		}
		if rich.TextCode != "" {
			merged["cause_code"] = rich.TextCode
		}
	} else if err != nil {
		merged["error"] = err.Error()
	}
	for k, v := range meta {
		merged[k] = v
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
	}
	if len(merged) > 0 {
		clone.WithMetadata(merged)
	}
	return clone
}

// HasTextCode reports whether err, or any error it wraps, is a go-errors
// error carrying code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var rich *goerrors.Error
		if !errors.As(err, &rich) || rich == nil {
			return false
		}
		if rich.TextCode == code {
			return true
		}
		err = rich.Source
	}
	return false
}

// TextCode returns the outermost go-errors text code on err, if any.
func TextCode(err error) string {
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich != nil {
		return rich.TextCode
	}
	return ""
}

// ErrorReason returns a short reason safe to show to a user or to carry
// in a cross-window message.
func ErrorReason(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich != nil {
		if reason, ok := rich.Metadata["reason"].(string); ok && reason != "" {
			return reason
		}
		if rich.TextCode != "" {
			return rich.TextCode
		}
	}
	return "unknown_error"
}
