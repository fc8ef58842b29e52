package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/quill/internal/retry"
)

// Reason categorizes why a vendor request failed.
type Reason string

const (
	ReasonRateLimit        Reason = "rate_limit"
	ReasonAuth             Reason = "auth"
	ReasonBilling          Reason = "billing"
	ReasonTimeout          Reason = "timeout"
	ReasonServerError      Reason = "server_error"
	ReasonInvalidRequest   Reason = "invalid_request"
	ReasonModelUnavailable Reason = "model_unavailable"
	ReasonContentFilter    Reason = "content_filter"
	ReasonNetwork          Reason = "network"
	ReasonUnknown          Reason = "unknown"
)

// Retryable reports whether another attempt may succeed.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonNetwork:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from a vendor API.
type ProviderError struct {
	Reason    Reason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{e.Provider, fmt.Sprintf("[%s]", e.Reason)}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.RequestID != "" {
		parts = append(parts, "request_id="+e.RequestID)
	}
	switch {
	case e.Message != "":
		parts = append(parts, e.Message)
	case e.Cause != nil:
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// newProviderError classifies cause. Status and code, when known, take
// precedence over message sniffing.
func newProviderError(provider, model string, status int, code string, cause error) *ProviderError {
	e := &ProviderError{
		Provider: provider,
		Model:    model,
		Status:   status,
		Code:     code,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if reason := classifyStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	if reason := classifyCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	if e.Reason == ReasonUnknown {
		e.Reason = Classify(cause)
	}
	return e
}

// Classify inspects an unstructured error.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "etimedout"):
		return ReasonTimeout
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429", "throttl"):
		return ReasonRateLimit
	case containsAny(msg, "unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"):
		return ReasonAuth
	case containsAny(msg, "billing", "payment", "quota", "402"):
		return ReasonBilling
	case containsAny(msg, "content_filter", "content policy", "safety"):
		return ReasonContentFilter
	case containsAny(msg, "model not found", "model_not_found", "does not exist"):
		return ReasonModelUnavailable
	case containsAny(msg, "connection reset", "connection refused", "no such host", "unexpected eof"):
		return ReasonNetwork
	case containsAny(msg, "internal server", "server error", "overloaded", "unavailable", "500", "502", "503", "504", "529"):
		return ReasonServerError
	}
	return ReasonUnknown
}

func classifyStatus(status int) Reason {
	switch {
	case status == 0:
		return ReasonUnknown
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	case status >= 400:
		return ReasonInvalidRequest
	}
	return ReasonUnknown
}

func classifyCode(code string) Reason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded", "throttlingexception", "resource_exhausted":
		return ReasonRateLimit
	case "authentication_error", "permission_error", "invalid_api_key", "accessdeniedexception", "unauthenticated", "permission_denied":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "not_found_error", "model_not_found", "resourcenotfoundexception", "not_found":
		return ReasonModelUnavailable
	case "overloaded_error", "api_error", "server_error", "internalserverexception", "serviceunavailableexception", "internal", "unavailable":
		return ReasonServerError
	case "invalid_request_error", "validationexception", "invalid_argument", "failed_precondition":
		return ReasonInvalidRequest
	case "modeltimeoutexception", "deadline_exceeded":
		return ReasonTimeout
	}
	return ReasonUnknown
}

// IsRetryable reports whether err is a transient vendor failure.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err).Retryable()
}

// ShouldFailover reports whether err warrants moving to another vendor:
// transient failures plus ones another account or model may not share.
func ShouldFailover(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch Classify(err) {
	case ReasonInvalidRequest, ReasonContentFilter:
		return false
	default:
		return true
	}
}

// retryPolicy returns p restricted to retryable vendor failures.
func retryPolicy(p retry.Policy) retry.Policy {
	p.Retryable = IsRetryable
	return p
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
