package dispatcher

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/local/splitmerge/internal/store"
)

// isTransientError checks if a publish error is worth another attempt.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if isFatalError(err) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout",
			"InternalError", "ServiceUnavailable", "RequestTimeTooSkewed":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	// Network errors (connection issues, timeouts)
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof")
}

// isFatalError checks if error is fatal and should not be retried.
func isFatalError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrResultNotFound) || errors.Is(err, fs.ErrPermission) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return true
		}
	}
	return false
}
