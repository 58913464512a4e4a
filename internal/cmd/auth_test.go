package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthLoginStatusLogout(t *testing.T) {
	server := setupTestEnv(t, backendRoutes())
	// credentials come from the keyring only
	t.Setenv("SUPPORT_BASE_URL", "")
	t.Setenv("SUPPORT_API_TOKEN", "")
	t.Setenv("SUPPORT_ADMIN_EMAIL", "")

	out, _, err := runCLI(t, "", "auth", "login",
		"--base-url", server.URL+"/", "--token", "sk-live-1234567890",
		"--admin-name", "Marta", "--admin-id", "a-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in to "+server.URL+" (profile default)")

	out, _, err = runCLI(t, "", "auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Push channel:  "+server.URL)
	assert.Contains(t, out, "Admin:         Marta (a-7)")
	assert.Contains(t, out, "sk-l**********7890")
	assert.NotContains(t, out, "Reachable", "reachability is only shown with --check")

	out, _, err = runCLI(t, "", "auth", "status", "--json", "--check")
	require.NoError(t, err)
	var st authStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, server.URL, st.BaseURL)
	assert.Equal(t, server.URL, st.SocketURL, "socket url defaults to the base url")
	assert.Equal(t, "Marta", st.AdminName)
	assert.Equal(t, "a-7", st.AdminID)
	assert.Equal(t, "sk-l**********7890", st.Token)
	require.NotNil(t, st.Reachable)
	assert.True(t, *st.Reachable)

	out, _, err = runCLI(t, "", "auth", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed credentials for profile")

	_, errOut, err := runCLI(t, "", "auth", "status")
	require.Error(t, err)
	assert.Equal(t, exitAuth, ExitCode(err))
	assert.Contains(t, errOut, "No backend configured")
}

func TestAuthLoginRejectedCredentials(t *testing.T) {
	rh := newRouteHandler().On("GET", "/support/conversations", jsonResponse(401, `{"error":"invalid token"}`))
	server := setupTestEnv(t, rh)

	_, _, err := runCLI(t, "", "auth", "login", "--base-url", server.URL, "--token", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials rejected")
	assert.Equal(t, exitAuth, ExitCode(err))

	// --no-verify skips the round trip
	_, _, err = runCLI(t, "", "auth", "login", "--base-url", server.URL, "--token", "wrong", "--no-verify", "--profile", "staging")
	require.NoError(t, err)
	assert.Len(t, rh.find("GET", "/support/conversations"), 1)
}

func TestAuthLoginRequiresBaseURL(t *testing.T) {
	isolateEnv(t)

	_, _, err := runCLI(t, "", "auth", "login", "--token", "abc")
	require.Error(t, err)
	assert.Equal(t, exitUsage, ExitCode(err))
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "(none)"},
		{"short", "*****"},
		{"12345678", "********"},
		{"abcd12345wxyz", "abcd*****wxyz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskToken(tt.in), tt.in)
	}
}

func TestAuthLoginValidatesURLs(t *testing.T) {
	isolateEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"metadata host", []string{"--base-url", "http://169.254.169.254"}, "invalid --base-url"},
		{"bad scheme", []string{"--base-url", "ftp://support.example.com"}, "invalid --base-url"},
		{"bad socket", []string{"--base-url", "https://support.example.com", "--socket-url", "tcp://push"}, "invalid --socket-url"},
		{"bad email", []string{"--base-url", "https://support.example.com", "--admin-email", "nope"}, "invalid --admin-email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"auth", "login", "--token", "abc", "--no-verify"}, tt.args...)
			_, _, err := runCLI(t, "", args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, exitUsage, ExitCode(err))
		})
	}
}
