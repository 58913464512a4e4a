package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/operiq/support-sync/internal/api"
	"github.com/operiq/support-sync/internal/config"
	"github.com/operiq/support-sync/internal/support"
)

// HandleError processes an error and returns a user-friendly message with suggestions
func HandleError(err error) string {
	if err == nil {
		return ""
	}

	var msg strings.Builder

	var apiErr *api.APIError
	var rateLimitErr *api.RateLimitError
	var circuitBreakerErr *api.CircuitBreakerError

	switch {
	case errors.Is(err, config.ErrNotConfigured):
		msg.WriteString("No backend configured.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: supportctl auth login --base-url <url> --token <token>\n")
		msg.WriteString("  - Or set SUPPORT_BASE_URL and SUPPORT_API_TOKEN\n")

	case errors.As(err, &rateLimitErr):
		msg.WriteString("Rate limit exceeded.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Wait a few seconds and retry\n")
		msg.WriteString("  - Raise SUPPORT_POLL_INTERVAL if a session is polling fast\n")

	case errors.As(err, &circuitBreakerErr):
		msg.WriteString("Service temporarily unavailable (circuit breaker open).\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - The backend has had multiple failures recently\n")
		msg.WriteString("  - Wait 30 seconds and retry\n")

	case errors.Is(err, support.ErrSendFailed):
		fmt.Fprintf(&msg, "Error: %s\n\n", err.Error())
		msg.WriteString("The message was kept locally and marked failed; nothing was delivered.\n")

	case errors.Is(err, support.ErrUnknownConversation):
		fmt.Fprintf(&msg, "Error: %s\n\n", err.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - List conversations: supportctl conversations list\n")

	case errors.As(err, &apiErr):
		fmt.Fprintf(&msg, "API error (HTTP %d): %s\n\n", apiErr.StatusCode, apiErr.Body)
		msg.WriteString(suggestionsForStatusCode(apiErr.StatusCode))
		if apiErr.RequestID != "" {
			fmt.Fprintf(&msg, "\nRequest ID: %s\n", apiErr.RequestID)
		}

	case strings.Contains(err.Error(), "connection refused"):
		msg.WriteString("Connection refused.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check if the support backend is running\n")
		msg.WriteString("  - Verify the URL: supportctl auth status\n")

	case strings.Contains(err.Error(), "no such host"):
		msg.WriteString("DNS resolution failed.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the backend URL spelling\n")

	default:
		fmt.Fprintf(&msg, "Error: %s\n", err.Error())
	}

	return msg.String()
}

func suggestionsForStatusCode(code int) string {
	var suggestions strings.Builder
	suggestions.WriteString("Suggestions:\n")

	switch code {
	case 400, 422:
		suggestions.WriteString("  - Check your input values\n")
		suggestions.WriteString("  - Use --debug to see the request\n")
	case 401:
		suggestions.WriteString("  - Your API token may be invalid or expired\n")
		suggestions.WriteString("  - Run: supportctl auth login\n")
	case 403:
		suggestions.WriteString("  - Your token lacks permission for this action\n")
	case 404:
		suggestions.WriteString("  - The conversation doesn't exist or was deleted\n")
		suggestions.WriteString("  - Check the ID is correct\n")
	case 429:
		suggestions.WriteString("  - Wait and retry in a few seconds\n")
	case 500, 502, 503, 504:
		suggestions.WriteString("  - Server error, wait and retry\n")
	default:
		suggestions.WriteString("  - Use --debug for more detail\n")
	}
	return suggestions.String()
}
