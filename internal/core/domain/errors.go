package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// ErrorKind is the machine-readable taxonomy of §7. Every PoolError
// carries exactly one.
type ErrorKind string

const (
	KindCircuitOpen       ErrorKind = "circuit-open"
	KindQueueFull         ErrorKind = "queue-full"
	KindDeadlineExceeded  ErrorKind = "deadline-exceeded"
	KindTimeout           ErrorKind = "timeout"
	KindNetwork           ErrorKind = "network"
	KindRateLimited       ErrorKind = "rate-limited"
	KindServer            ErrorKind = "server"
	KindClient            ErrorKind = "client"
	KindRPCError          ErrorKind = "rpc-error"
	KindCancelled         ErrorKind = "cancelled"
	KindPoolDestroyed     ErrorKind = "pool-destroyed"
	KindComponentDegraded ErrorKind = "component-degraded"
	KindNoCapacity        ErrorKind = "no-capacity"
)

// Retryable reports whether the §7 table marks this kind as retried to the
// next endpoint by the executor.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindNetwork, KindRateLimited, KindServer:
		return true
	default:
		return false
	}
}

// PoolError is the algebraic error type every call() failure surfaces as;
// it carries the originating endpoint and the full attempt trail so
// operators can attribute faults unambiguously (§4.8 "Error messages
// carry the originating component name").
type PoolError struct {
	Kind       ErrorKind
	Message    string
	Endpoint   string
	Err        error
	Attempts   []Attempt
	StatusCode int
}

func (e *PoolError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("%s: %s (endpoint=%s)", e.Kind, e.Message, e.Endpoint)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PoolError) Unwrap() error { return e.Err }

func NewPoolError(kind ErrorKind, message string, err error) *PoolError {
	return &PoolError{Kind: kind, Message: message, Err: err}
}

// WithEndpoint returns a copy of e annotated with the endpoint URL that
// produced it.
func (e *PoolError) WithEndpoint(url string) *PoolError {
	cp := *e
	cp.Endpoint = url
	return &cp
}

// WithAttempts attaches the diagnostic attempt trail before surfacing.
func (e *PoolError) WithAttempts(attempts []Attempt) *PoolError {
	cp := *e
	cp.Attempts = attempts
	return &cp
}

// EndpointError wraps a failure performing operation against an endpoint
// URL (construction, health probe, etc.) - kept in the teacher's
// Err*-struct-with-Unwrap() idiom for non-call-path failures.
type EndpointError struct {
	Err       error
	Operation string
	URL       string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s failed for endpoint %s: %v", e.Operation, e.URL, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

func NewEndpointError(operation, url string, err error) *EndpointError {
	return &EndpointError{Operation: operation, URL: url, Err: err}
}

// RPCError models a JSON-RPC 2.0 "error" field (§6 wire format).
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ClassifyError is the pure function (§4.2 "Failure classification")
// deciding whether err counts as a circuit-breaker failure and which
// ErrorKind it maps to. Grounded on the teacher's
// internal/adapter/proxy/core/retry.go IsConnectionError/
// hasConnectionError pattern, extended to cover HTTP status buckets and
// JSON-RPC codes.
func ClassifyError(err error, statusCode int) ErrorKind {
	if err == nil && statusCode == 0 {
		// unknown/null errors fail safe -> treated as failures
		return KindNetwork
	}

	if rpcErr, ok := err.(*RPCError); ok {
		return classifyRPCError(rpcErr)
	}

	if statusCode > 0 {
		return classifyStatusCode(statusCode)
	}

	if err == nil {
		return KindNetwork
	}

	if isTimeoutError(err) {
		return KindTimeout
	}
	if isConnectionError(err) {
		return KindNetwork
	}

	// Unknown errors fail safe -> treated as failures.
	return KindNetwork
}

func classifyStatusCode(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindClient
	default:
		return KindClient
	}
}

func classifyRPCError(e *RPCError) ErrorKind {
	// JSON-RPC error codes below -32000 are protocol errors (client-side,
	// malformed request); application errors (>= -32000, our own
	// convention) are routed as rpc-error for callers to interpret.
	if e.Code < -32000 {
		return KindClient
	}
	return KindRPCError
}

// timeoutError mirrors net.Error's Timeout() method without importing
// "net" just for an interface check.
type timeoutError interface {
	Timeout() bool
}

func isTimeoutError(err error) bool {
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "i/o timeout")
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range connectionErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

var connectionErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"no route to host",
	"connection timed out",
	"dial tcp",
}

// IsRetryAfterHint extracts a Retry-After style duration if present; not
// part of the spec's contract but useful for the rate-limited backoff
// path (§4.7 "Retryable ... with backoff").
func IsRetryAfterHint(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	var seconds int
	if _, err := fmt.Sscanf(v, "%d", &seconds); err != nil {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
