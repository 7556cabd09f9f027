package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"

	"reconciler/internal/domain"
)

type ErrorType string

const (
	TypeNetwork        ErrorType = "network"
	TypeAuthentication ErrorType = "authentication"
	TypeValidation     ErrorType = "validation"
	TypeRateLimit      ErrorType = "rate_limit"
	TypeConflict       ErrorType = "conflict"
	TypeServer         ErrorType = "server"
	TypeUnknown        ErrorType = "unknown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classification drives retry eligibility; UserMessage is safe to show.
type Classification struct {
	Type        ErrorType
	Code        domain.ErrorCode
	Severity    Severity
	UserMessage string
	ShouldRetry bool
}

// CodeError carries a failure code reported by a remote procedure in its
// response body rather than as a transport error.
type CodeError struct {
	Code       domain.ErrorCode
	Message    string
	RetryAfter time.Duration
}

func (e *CodeError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCoder is implemented by transport errors that know their HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

var (
	fiveHundreds = regexp.MustCompile(`\b5\d\d\b`)
	eofWord      = regexp.MustCompile(`\beof\b`)
	status401    = regexp.MustCompile(`\b40[13]\b`)
	status429    = regexp.MustCompile(`\b429\b`)
	status409    = regexp.MustCompile(`\b409\b`)
	status4xxBad = regexp.MustCompile(`\b(400|422)\b`)
)

// Classify maps a raw error onto the failure taxonomy. It is pure.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Type: TypeUnknown, Code: domain.ErrorCodeUnknown, Severity: SeverityLow}
	}

	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return ClassifyCode(codeErr.Code)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassifyCode(domain.ErrorCodeTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Type: TypeUnknown, Code: domain.ErrorCodeUnknown, Severity: SeverityLow, UserMessage: "The request was cancelled."}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if c, ok := classifyPostgres(pqErr); ok {
			return c
		}
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if c, ok := classifyHTTPStatus(sc.HTTPStatus()); ok {
			return c
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassifyCode(domain.ErrorCodeTimeout)
		}
		return ClassifyCode(domain.ErrorCodeNetwork)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ClassifyCode(domain.ErrorCodeNetwork)
	}

	return classifyMessage(strings.ToLower(err.Error()))
}

// Retryable is shorthand for Classify(err).ShouldRetry.
func Retryable(err error) bool {
	return Classify(err).ShouldRetry
}

// ClassifyCode maps an ErrorCode onto its classification.
func ClassifyCode(code domain.ErrorCode) Classification {
	switch code {
	case domain.ErrorCodeNetwork:
		return Classification{Type: TypeNetwork, Code: code, Severity: SeverityMedium, ShouldRetry: true,
			UserMessage: "Connection problem. Please check your internet connection and try again."}
	case domain.ErrorCodeTimeout:
		return Classification{Type: TypeNetwork, Code: code, Severity: SeverityMedium, ShouldRetry: true,
			UserMessage: "The request took too long. Please try again."}
	case domain.ErrorCodeAuth:
		return Classification{Type: TypeAuthentication, Code: code, Severity: SeverityHigh, ShouldRetry: false,
			UserMessage: "Your session has expired. Please sign in again."}
	case domain.ErrorCodeValidation:
		return Classification{Type: TypeValidation, Code: code, Severity: SeverityLow, ShouldRetry: false,
			UserMessage: "The request was invalid. Please check the details and try again."}
	case domain.ErrorCodeRateLimited:
		return Classification{Type: TypeRateLimit, Code: code, Severity: SeverityMedium, ShouldRetry: true,
			UserMessage: "Too many requests. Please wait a moment and try again."}
	case domain.ErrorCodeLockConflict:
		return Classification{Type: TypeConflict, Code: code, Severity: SeverityMedium, ShouldRetry: true,
			UserMessage: "This order is being updated by someone else. Retrying shortly."}
	case domain.ErrorCodeDuplicateKey:
		return Classification{Type: TypeConflict, Code: code, Severity: SeverityHigh, ShouldRetry: true,
			UserMessage: "A conflicting update was detected. Retrying shortly."}
	case domain.ErrorCodeServer:
		return Classification{Type: TypeServer, Code: code, Severity: SeverityHigh, ShouldRetry: true,
			UserMessage: "The server had a problem. Please try again shortly."}
	case domain.ErrorCodeServiceUnavailable:
		return Classification{Type: TypeServer, Code: code, Severity: SeverityHigh, ShouldRetry: true,
			UserMessage: "The service is temporarily unavailable. Please try again shortly."}
	case domain.ErrorCodeNotFound:
		return Classification{Type: TypeUnknown, Code: code, Severity: SeverityMedium, ShouldRetry: false,
			UserMessage: "We could not find that record."}
	default:
		return Classification{Type: TypeUnknown, Code: domain.ErrorCodeUnknown, Severity: SeverityMedium, ShouldRetry: false,
			UserMessage: "Something went wrong. Please try again or contact support."}
	}
}

func classifyPostgres(e *pq.Error) (Classification, bool) {
	switch e.Code {
	case "55P03", "40001", "40P01":
		return ClassifyCode(domain.ErrorCodeLockConflict), true
	case "23505":
		return ClassifyCode(domain.ErrorCodeDuplicateKey), true
	case "28000", "28P01", "42501":
		return ClassifyCode(domain.ErrorCodeAuth), true
	case "57P03", "57P01", "53300":
		return ClassifyCode(domain.ErrorCodeServiceUnavailable), true
	case "57014":
		return ClassifyCode(domain.ErrorCodeTimeout), true
	}
	switch e.Code.Class() {
	case "08":
		return ClassifyCode(domain.ErrorCodeNetwork), true
	case "22", "23":
		return ClassifyCode(domain.ErrorCodeValidation), true
	case "53", "58", "XX":
		return ClassifyCode(domain.ErrorCodeServer), true
	}
	return Classification{}, false
}

func classifyHTTPStatus(status int) (Classification, bool) {
	switch {
	case status == 401 || status == 403:
		return ClassifyCode(domain.ErrorCodeAuth), true
	case status == 400 || status == 422:
		return ClassifyCode(domain.ErrorCodeValidation), true
	case status == 404:
		return ClassifyCode(domain.ErrorCodeNotFound), true
	case status == 408:
		return ClassifyCode(domain.ErrorCodeTimeout), true
	case status == 409:
		return ClassifyCode(domain.ErrorCodeLockConflict), true
	case status == 429:
		return ClassifyCode(domain.ErrorCodeRateLimited), true
	case status == 503:
		return ClassifyCode(domain.ErrorCodeServiceUnavailable), true
	case status >= 500:
		return ClassifyCode(domain.ErrorCodeServer), true
	}
	return Classification{}, false
}

func classifyMessage(msg string) Classification {
	switch {
	case containsAny(msg, "rate limit", "rate_limited", "too many requests") || status429.MatchString(msg):
		return ClassifyCode(domain.ErrorCodeRateLimited)
	case containsAny(msg, "unauthorized", "unauthorised", "forbidden", "auth_failed", "jwt", "invalid api key", "permission denied", "not authenticated", "authentication") ||
		status401.MatchString(msg):
		return ClassifyCode(domain.ErrorCodeAuth)
	case containsAny(msg, "duplicate key", "duplicate_key", "already exists"):
		return ClassifyCode(domain.ErrorCodeDuplicateKey)
	case containsAny(msg, "lock_conflict", "could not obtain lock", "lock not available", "deadlock", "concurrent update", "conflict") ||
		status409.MatchString(msg):
		return ClassifyCode(domain.ErrorCodeLockConflict)
	case containsAny(msg, "service unavailable", "service_unavailable"):
		return ClassifyCode(domain.ErrorCodeServiceUnavailable)
	case containsAny(msg, "bad gateway", "internal server error", "gateway timeout", "server_error") || fiveHundreds.MatchString(msg):
		return ClassifyCode(domain.ErrorCodeServer)
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ClassifyCode(domain.ErrorCodeTimeout)
	case containsAny(msg, "network", "failed to fetch", "fetch failed", "connection refused", "connection reset", "no such host", "dns", "broken pipe") ||
		eofWord.MatchString(msg):
		return ClassifyCode(domain.ErrorCodeNetwork)
	case containsAny(msg, "invalid", "validation", "required", "malformed", "bad request", "validation_failed") || status4xxBad.MatchString(msg):
		return ClassifyCode(domain.ErrorCodeValidation)
	case containsAny(msg, "not found", "not_found"):
		return ClassifyCode(domain.ErrorCodeNotFound)
	}
	return ClassifyCode(domain.ErrorCodeUnknown)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
