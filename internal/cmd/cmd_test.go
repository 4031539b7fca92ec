package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/krewdev/bluetrap/internal/config"
	"github.com/krewdev/bluetrap/internal/defense"
	"github.com/krewdev/bluetrap/internal/output"
	"github.com/krewdev/bluetrap/internal/server/handlers"
)

func TestKeyGenerateCommand(t *testing.T) {
	keyLength, keyCount, keyShowID = 20, 3, false
	t.Cleanup(func() { keyLength, keyCount, keyShowID = 32, 1, false })

	var buf bytes.Buffer
	keyGenerateCmd.SetOut(&buf)
	require.NoError(t, keyGenerateCmd.RunE(keyGenerateCmd, nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Regexp(t, `^[A-Za-z0-9]{20}$`, line)
	}
	assert.NotEqual(t, lines[0], lines[1])
}

func TestKeyGenerateShowsKeyID(t *testing.T) {
	keyLength, keyCount, keyShowID = 16, 1, true
	t.Cleanup(func() { keyLength, keyCount, keyShowID = 32, 1, false })

	var buf bytes.Buffer
	keyGenerateCmd.SetOut(&buf)
	require.NoError(t, keyGenerateCmd.RunE(keyGenerateCmd, nil))

	fields := strings.Fields(buf.String())
	require.Len(t, fields, 2)
	assert.Equal(t, defense.KeyID(fields[0]), fields[1])
}

func TestKeyGenerateRejectsBadInput(t *testing.T) {
	t.Cleanup(func() { keyLength, keyCount = 32, 1 })

	keyLength, keyCount = 32, 0
	assert.Error(t, keyGenerateCmd.RunE(keyGenerateCmd, nil))

	keyLength, keyCount = 0, 1
	assert.Error(t, keyGenerateCmd.RunE(keyGenerateCmd, nil))
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	extended = false
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Equal(t, "bluetrap 1.2.3\n", buf.String())

	buf.Reset()
	extended = true
	t.Cleanup(func() { extended = false })
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Contains(t, buf.String(), "Commit: abc123")
	assert.Contains(t, buf.String(), "Gofulmen:")

	buf.Reset()
	extended, versionJSON = false, true
	t.Cleanup(func() { versionJSON = false })
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	var doc handlers.VersionResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "bluetrap", doc.App.Name)
	assert.Equal(t, "2026-01-01", doc.App.BuildDate)
}

func TestOpenStoreRejectsMemoryDriver(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	config.SetDefaults(viper.GetViper())

	_, err := openStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory")
}

func TestCheckStore(t *testing.T) {
	msg, ok := checkStore(context.Background(), config.StoreConfig{Driver: "memory"})
	assert.False(t, ok)
	assert.Contains(t, msg, "memory driver")

	msg, ok = checkStore(context.Background(), config.StoreConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "doctor.db"),
	})
	assert.True(t, ok, msg)
	assert.Contains(t, msg, "sqlite reachable")

	_, ok = checkStore(context.Background(), config.StoreConfig{Driver: "etcd"})
	assert.False(t, ok)
}

func TestWriteTrapResetResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTrapResetResult(output.FormatTable, &buf, trapResetResult{Matched: 2, DeletedKeys: 5}))
	assert.Equal(t, "Reset 2 client(s), deleted 5 key(s)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeTrapResetResult(output.FormatTable, &buf, trapResetResult{Matched: 4, DryRun: true}))
	assert.Equal(t, "Would reset 4 client(s)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeTrapResetResult(output.FormatJSON, &buf, trapResetResult{Matched: 1, DeletedKeys: 3}))
	var decoded trapResetResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, trapResetResult{Matched: 1, DeletedKeys: 3}, decoded)

	buf.Reset()
	require.NoError(t, writeTrapResetResult(output.FormatYAML, &buf, trapResetResult{Matched: 1}))
	var asMap map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &asMap))
	assert.Equal(t, 1, asMap["matched"])
}

func TestOpenFormatSink(t *testing.T) {
	_, err := openFormatSink("a.json", "dir", "trap.list", output.FormatJSON)
	assert.Error(t, err)

	dir := filepath.Join(t.TempDir(), "reports")
	sink, err := openFormatSink("", dir, "trap.list", output.FormatMarkdown)
	require.NoError(t, err)
	_, err = sink.writer.Write([]byte("# report\n"))
	require.NoError(t, err)
	require.NoError(t, sink.close())

	assert.Equal(t, "trap.list.md", filepath.Base(sink.path))
	data, err := os.ReadFile(sink.path)
	require.NoError(t, err)
	assert.Equal(t, "# report\n", string(data))

	stdout, err := openFormatSink("", "", "trap.list", output.FormatTable)
	require.NoError(t, err)
	assert.Equal(t, "-", stdout.path)
}

func TestBuildInitConfig(t *testing.T) {
	rendered := buildInitConfig("abc123")

	var parsed map[string]map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &parsed))
	assert.Equal(t, "abc123", parsed["defense"]["agent_key"])
	assert.Equal(t, 8000, parsed["server"]["port"])
	assert.Equal(t, "sqlite", parsed["store"]["driver"])
}

func TestFetchHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"degraded","version":"1.0.0","storage":"fallback","checks":{"state_store":"degraded"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	resp, err := fetchHealth(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, handlers.StatusDegraded, resp.Status)
	assert.Equal(t, "degraded", resp.Checks["state_store"])
	assert.EqualValues(t, "fallback", resp.Storage)
}

func TestFetchHealthUnhealthyAndErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	resp, err := fetchHealth(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, handlers.StatusUnhealthy, resp.Status)

	status = http.StatusTeapot
	_, err = fetchHealth(context.Background(), srv.URL)
	assert.Error(t, err)
}
