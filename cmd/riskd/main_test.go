package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_sentinel/internal/audit"
)

func TestTrimNewline(t *testing.T) {
	assert.Equal(t, "admin123", trimNewline("admin123\n"))
	assert.Equal(t, "admin123", trimNewline("admin123\r\n"))
	assert.Equal(t, "admin123", trimNewline("admin123"))
	assert.Equal(t, "", trimNewline("\n"))
}

func TestResolveAccountIDFallback(t *testing.T) {
	aud, err := audit.New(filepath.Join(t.TempDir(), "audit.ndjson"))
	require.NoError(t, err)
	defer aud.Close()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	t.Setenv("PROJECT_X_ACCOUNT_ID", "")
	assert.Equal(t, fallbackAccountID, resolveAccountID(log, aud))

	t.Setenv("PROJECT_X_ACCOUNT_ID", "not-a-number")
	assert.Equal(t, fallbackAccountID, resolveAccountID(log, aud))

	t.Setenv("PROJECT_X_ACCOUNT_ID", "424242")
	assert.Equal(t, 424242, resolveAccountID(log, aud))
}

func TestGatewayURLDefaults(t *testing.T) {
	t.Setenv("PROJECT_X_API_URL", "")
	t.Setenv("PROJECT_X_RTC_URL", "")
	assert.Equal(t, defaultAPIURL, gatewayURL())
	assert.Equal(t, defaultHubURL, hubURL())

	t.Setenv("PROJECT_X_API_URL", "https://gateway.example")
	assert.Equal(t, "https://gateway.example", gatewayURL())
}

func TestCredentialsRequired(t *testing.T) {
	t.Setenv("PROJECT_X_USERNAME", "")
	t.Setenv("PROJECT_X_API_KEY", "")
	_, err := credentials()
	require.Error(t, err)

	t.Setenv("PROJECT_X_USERNAME", "trader")
	t.Setenv("PROJECT_X_API_KEY", "key")
	creds, err := credentials()
	require.NoError(t, err)
	assert.Equal(t, "trader", creds.Username)
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	require.NoError(t, writePIDFile())
	pid, err := readPIDFile()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// The current process is alive, so a second start is refused.
	require.Error(t, writePIDFile())
}
