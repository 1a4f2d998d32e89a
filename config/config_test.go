package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/makhomed/autofilter/threshold"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTmpConfig(t *testing.T, contents string) string {
	dir := t.TempDir()
	p := filepath.Join(dir, "autofilter.conf")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0644))
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	tb := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"), nil)
	assert.Equal(t, DefaultRequestLimit, tb.RequestCount.Resolve("1.2.3.4", "US"))
	assert.Equal(t, DefaultOneURILimit, tb.OneURICount.Resolve("1.2.3.4", "US"))
	assert.Equal(t, DefaultBlockDurationSecs, tb.BlockDuration.Resolve("1.2.3.4", "US"))
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	tb := Load("", nil)
	assert.True(t, tb.RequestCount.HasAll())
}

func TestParseBasicDirectives(t *testing.T) {
	p := writeTmpConfig(t, `
# a comment
limit 1.2.3.4 10 5
block 1.2.3.4 1h
limit ua none none
`)
	tb := Load(p, nil)
	assert.Equal(t, uint64(10), tb.RequestCount.Resolve("1.2.3.4", "US"))
	assert.Equal(t, uint64(5), tb.OneURICount.Resolve("1.2.3.4", "US"))
	assert.Equal(t, uint64(3600), tb.BlockDuration.Resolve("1.2.3.4", "US"))
	assert.Equal(t, threshold.None, tb.RequestCount.Resolve("5.6.7.8", "UA"))
	// ALL is synthesized from defaults since the file never sets it
	assert.Equal(t, DefaultRequestLimit, tb.RequestCount.Resolve("5.6.7.8", "US"))
}

func TestParseDayDuration(t *testing.T) {
	p := writeTmpConfig(t, "block ALL 2d\n")
	tb := Load(p, nil)
	assert.Equal(t, uint64(2*86400), tb.BlockDuration.Resolve("1.1.1.1", ""))
}

func TestParseCIDR(t *testing.T) {
	p := writeTmpConfig(t, "limit 10.0.0.0/8 50 10\n")
	tb := Load(p, nil)
	assert.Equal(t, uint64(50), tb.RequestCount.Resolve("10.1.2.3", ""))
}

func TestInvalidCIDRFallsBackToDefaults(t *testing.T) {
	p := writeTmpConfig(t, "limit 10.0.0.0/999 50 10\n")
	tb := Load(p, nil)
	assert.Equal(t, DefaultRequestLimit, tb.RequestCount.Resolve("10.1.2.3", ""))
}

func TestDuplicateEntityFallsBackToDefaults(t *testing.T) {
	p := writeTmpConfig(t, "limit 1.2.3.4 10 5\nlimit 1.2.3.4 20 10\n")
	tb := Load(p, nil)
	assert.Equal(t, DefaultRequestLimit, tb.RequestCount.Resolve("1.2.3.4", ""))
}

func TestOneURIExceedsRequestFallsBackToDefaults(t *testing.T) {
	p := writeTmpConfig(t, "limit 1.2.3.4 5 10\n")
	tb := Load(p, nil)
	assert.Equal(t, DefaultRequestLimit, tb.RequestCount.Resolve("1.2.3.4", ""))
}

func TestMalformedLineFallsBackToDefaults(t *testing.T) {
	p := writeTmpConfig(t, "limit 1.2.3.4 10\n")
	tb := Load(p, nil)
	assert.Equal(t, DefaultRequestLimit, tb.RequestCount.Resolve("1.2.3.4", ""))
}

func TestIPv6EntityPreservesCase(t *testing.T) {
	p := writeTmpConfig(t, "limit 2001:DB8::1 10 5\n")
	tb := Load(p, nil)
	assert.Equal(t, uint64(10), tb.RequestCount.Resolve("2001:DB8::1", ""))
}

func TestCountryCodeIsUppercased(t *testing.T) {
	p := writeTmpConfig(t, "limit ua 10 5\n")
	tb := Load(p, nil)
	assert.Equal(t, uint64(10), tb.RequestCount.Resolve("1.1.1.1", "UA"))
}

func TestParseDurationUnitValidation(t *testing.T) {
	_, err := parseDuration("5m")
	assert.Error(t, err)
	secs, err := parseDuration("5h")
	assert.NoError(t, err)
	assert.Equal(t, uint64(5*3600), secs)
}

func TestCommentsAreStripped(t *testing.T) {
	p := writeTmpConfig(t, "limit ALL 10 5 # trailing comment\n")
	tb := Load(p, nil)
	assert.Equal(t, uint64(10), tb.RequestCount.Resolve("1.1.1.1", ""))
}

func TestUnknownDirectiveFallsBackToDefaults(t *testing.T) {
	p := writeTmpConfig(t, "frobnicate ALL 10\n")
	tb := Load(p, nil)
	assert.Equal(t, DefaultRequestLimit, tb.RequestCount.Resolve("1.1.1.1", ""))
}

func TestSentinelNoneParsesCaseInsensitively(t *testing.T) {
	p := writeTmpConfig(t, strings.ToUpper("limit ALL NONE NONE")+"\n")
	tb := Load(p, nil)
	assert.Equal(t, threshold.None, tb.RequestCount.Resolve("1.1.1.1", ""))
}

func TestParseFallbackIsLoggedToDiagnosticsLogger(t *testing.T) {
	p := writeTmpConfig(t, "limit 1.2.3.4 10\n")
	var buf bytes.Buffer
	diag := zerolog.New(&buf)
	Load(p, &diag)
	assert.Contains(t, buf.String(), "config file parse error")
}
