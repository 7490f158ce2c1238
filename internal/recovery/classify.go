package recovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
)

// classifyTransient labels a generic Go error for metrics/logging, the same
// way the network-call classifier used to, extended with storage-specific
// kinds so every failure this package retries gets a label.
func classifyTransient(err error) string {
	if err == nil {
		return "none"
	}

	var se *coreerrors.StorageError
	if errors.As(err, &se) {
		return string(se.Kind)
	}

	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return "network"
		}
		return "network"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return "network"
	default:
		return "unknown"
	}
}

// Severity classifies a recovery-path error for user-facing reporting,
// mirroring coreerrors.ClassifySeverity but falling back to medium for
// errors this package doesn't otherwise recognize.
func Severity(err error) coreerrors.Severity {
	var se *coreerrors.StorageError
	if errors.As(err, &se) {
		return coreerrors.ClassifySeverity(se.Kind)
	}
	return coreerrors.SeverityMedium
}

// kindOf extracts the StorageError kind driving strategy selection, or ""
// if err is not a tagged StorageError.
func kindOf(err error) coreerrors.Kind {
	var se *coreerrors.StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
