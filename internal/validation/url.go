// Package validation checks user-supplied backend URLs and message input
// before anything is stored or sent.
//
// Backend URLs may point at private or loopback hosts, since support backends
// usually run inside the operator's network. Cloud metadata endpoints are
// always rejected: the bearer token is sent to whatever host is configured.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// MaxURLLength is the longest backend URL accepted.
const MaxURLLength = 2048

var (
	restSchemes   = []string{"http", "https"}
	socketSchemes = []string{"http", "https", "ws", "wss"}
)

// ValidateBackendURL checks the REST base URL.
func ValidateBackendURL(rawURL string) error {
	return validateURL(rawURL, restSchemes)
}

// ValidateSocketURL checks the push channel URL. WebSocket schemes are
// accepted alongside http(s).
func ValidateSocketURL(rawURL string) error {
	return validateURL(rawURL, socketSchemes)
}

func validateURL(rawURL string, schemes []string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("URL exceeds maximum length of %d characters", MaxURLLength)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if !schemeAllowed(u.Scheme, schemes) {
		return fmt.Errorf("invalid URL scheme %q: use %s", u.Scheme, strings.Join(schemes, ", "))
	}
	if u.User != nil {
		return fmt.Errorf("URL must not embed credentials; use --token")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("URL must not contain a query or fragment")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must contain a hostname")
	}
	if isCloudMetadata(hostname) {
		return fmt.Errorf("cloud metadata endpoints are not allowed")
	}
	if ip := net.ParseIP(hostname); ip != nil {
		if ip.IsUnspecified() {
			return fmt.Errorf("unspecified IP addresses are not allowed")
		}
		if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
			return fmt.Errorf("link-local and multicast IP addresses are not allowed")
		}
	}
	return nil
}

func schemeAllowed(scheme string, schemes []string) bool {
	for _, s := range schemes {
		if strings.EqualFold(scheme, s) {
			return true
		}
	}
	return false
}

// isCloudMetadata checks for cloud metadata endpoints
func isCloudMetadata(hostname string) bool {
	lowercase := strings.ToLower(strings.TrimSuffix(hostname, "."))
	cloudMetadataEndpoints := []string{
		"169.254.169.254",          // AWS, Azure, GCP, DigitalOcean
		"metadata.google.internal", // GCP
		"metadata",
		"instance-data", // AWS
		"fd00:ec2::254", // AWS IPv6
	}
	for _, endpoint := range cloudMetadataEndpoints {
		if lowercase == endpoint {
			return true
		}
	}
	return strings.HasSuffix(lowercase, ".metadata.google.internal")
}
