package cmd

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/spf13/pflag"

	"github.com/operiq/support-sync/internal/api"
	"github.com/operiq/support-sync/internal/config"
	"github.com/operiq/support-sync/internal/resolve"
	"github.com/operiq/support-sync/internal/support"
)

const (
	exitOK          = 0
	exitGeneric     = 1
	exitUsage       = 2
	exitAuth        = 3
	exitNotFound    = 4
	exitForbidden   = 5
	exitRateLimited = 6
	exitServer      = 7
	exitNetwork     = 8
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	var handled *handledError
	if errors.As(err, &handled) {
		if handled.exitCode != 0 {
			return handled.exitCode
		}
		err = handled.err
	}

	if code := exitCodeFromAPI(err); code != 0 {
		return code
	}
	switch {
	case errors.Is(err, config.ErrNotConfigured):
		return exitAuth
	case errors.Is(err, support.ErrUnknownConversation):
		return exitNotFound
	case errors.Is(err, support.ErrEmptyMessage),
		errors.Is(err, resolve.ErrEmptyQuery):
		return exitUsage
	}
	var ambiguous *resolve.AmbiguousError
	if errors.As(err, &ambiguous) {
		return exitUsage
	}
	if isUsageError(err) {
		return exitUsage
	}
	if isNetworkError(err) {
		return exitNetwork
	}
	return exitGeneric
}

func exitCodeFromAPI(err error) int {
	var apiErr *api.APIError
	switch {
	case api.IsRateLimitError(err):
		return exitRateLimited
	case api.IsCircuitBreakerError(err):
		return exitServer
	case !errors.As(err, &apiErr):
		return 0
	}
	switch {
	case apiErr.StatusCode == 401:
		return exitAuth
	case apiErr.StatusCode == 403:
		return exitForbidden
	case apiErr.StatusCode == 404:
		return exitNotFound
	case api.IsValidationError(err), apiErr.StatusCode == 409:
		return exitUsage
	case apiErr.StatusCode >= 500:
		return exitServer
	default:
		return 0
	}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "tls") ||
		strings.Contains(msg, "certificate") ||
		strings.Contains(msg, "i/o timeout")
}

func isUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	indicators := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid status",
		"invalid --",
		"cannot be combined",
		"invalid output format",
		"must be",
		"is required",
		"are required",
	}
	for _, indicator := range indicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
