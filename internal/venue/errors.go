package venue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind is the canonical classification of a venue error.
type ErrorKind string

const (
	// KindTransient covers rate limits, 5xx, timestamp skew and network
	// faults. The retry wrapper absorbs these.
	KindTransient ErrorKind = "venue:transient"

	// Deterministic kinds fail fast.
	KindMargin       ErrorKind = "venue:fatal:margin"
	KindNotional     ErrorKind = "venue:fatal:notional"
	KindFilter       ErrorKind = "venue:fatal:filter"
	KindAuth         ErrorKind = "venue:fatal:auth"
	KindUnknownOrder ErrorKind = "venue:fatal:unknown_order"
	KindStopRejected ErrorKind = "venue:fatal:stop_rejected"
	KindLeverage     ErrorKind = "venue:fatal:leverage"
	KindUnknown      ErrorKind = "venue:fatal:unknown"
)

// Fixed user-visible messages for notable Binance error codes.
var codeMessages = map[int]string{
	-2019: "insufficient margin for requested quantity",
	-4164: "order notional below the symbol minimum",
	-2021: "stop price too close to mark price, order would trigger immediately",
	-1111: "price or quantity precision does not match the symbol tick size",
	-4014: "price not a multiple of the symbol tick size",
	-2015: "invalid API key, IP, or permissions",
	-2014: "API key format invalid",
	-1003: "request rate limit exceeded",
	-2011: "unknown order sent",
	-2013: "order does not exist",
	-4028: "leverage not valid for this symbol bracket",
	-1021: "request timestamp outside of recvWindow",
}

// APIError is an error returned by the venue REST API.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
	Kind       ErrorKind
}

func (e *APIError) Error() string {
	if msg, ok := codeMessages[e.Code]; ok {
		return fmt.Sprintf("%s: %s (code %d)", e.Kind, msg, e.Code)
	}
	return fmt.Sprintf("%s: %s (code %d, http %d)", e.Kind, e.Msg, e.Code, e.HTTPStatus)
}

// Transient reports whether the error should be retried.
func (e *APIError) Transient() bool {
	return e.Kind == KindTransient
}

// classifyCode maps a Binance error code and HTTP status to a kind.
func classifyCode(httpStatus, code int) ErrorKind {
	switch code {
	case -1001, -1003, -1015, -1016, -1021:
		// disconnect, rate limit, too many orders, shutting down, clock skew
		return KindTransient
	case -2019:
		return KindMargin
	case -4164, -4003:
		return KindNotional
	case -1111, -4014, -1013, -4013:
		return KindFilter
	case -2014, -2015, -1022:
		return KindAuth
	case -2011, -2013:
		return KindUnknownOrder
	case -2021:
		return KindStopRejected
	case -4028, -4046:
		return KindLeverage
	}
	if httpStatus == http.StatusTooManyRequests || httpStatus == 418 || httpStatus >= 500 {
		return KindTransient
	}
	if httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden {
		return KindAuth
	}
	return KindUnknown
}

// ClassifyResponse builds an *APIError from a non-200 venue response body.
func ClassifyResponse(httpStatus int, body []byte) error {
	apiErr := &APIError{HTTPStatus: httpStatus}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == 0 {
		apiErr.Msg = strings.TrimSpace(string(body))
	}
	apiErr.Kind = classifyCode(httpStatus, apiErr.Code)
	return apiErr
}

// IsTransient reports whether err is worth retrying: a transient APIError
// or a network-level failure (timeout, connection refused, DNS).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// url.Error wraps syscall-level faults that don't implement net.Error
	s := err.Error()
	return strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "EOF")
}

// KindOf extracts the canonical kind from an error, KindUnknown if none.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindUnknown
}
