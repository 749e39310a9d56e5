package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailalias/backend/internal/config"
	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/service"
	"mailalias/backend/internal/storage/memory"
	httptransport "mailalias/backend/internal/transport/http"
	"mailalias/backend/internal/websocket"
)

// run 执行一次命令，返回标准输出和错误输出
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// offlineConfig 通过环境变量配置文件存储和映射路径
func offlineConfig(t *testing.T) string {
	dir := t.TempDir()
	t.Setenv("ALIASMAP_STORE_TYPE", "file")
	t.Setenv("ALIASMAP_STORE_PATH", filepath.Join(dir, "aliases.json"))
	t.Setenv("ALIASMAP_MAPS_ALLOW_PATH", filepath.Join(dir, "aliases.map"))
	t.Setenv("ALIASMAP_MAPS_BLOCK_PATH", filepath.Join(dir, "reject.map"))
	return dir
}

func TestRoot_Help(t *testing.T) {
	out, _, err := run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "render")

	_, _, err = run(t, "--unknown-flag")
	assert.Error(t, err)
}

func TestImportRenderReload(t *testing.T) {
	dir := offlineConfig(t)

	legacy := filepath.Join(dir, "legacy.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{
		"shop@x.com": {"user": "me@x.com", "description": "Shop"},
		"@spam.com": {"user": "me", "description": "Spam", "blocked": true, "reason": "go away"}
	}`), 0644))

	out, _, err := run(t, "import", legacy)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 aliases")

	allow, err := os.ReadFile(filepath.Join(dir, "aliases.map"))
	require.NoError(t, err)
	assert.Equal(t, "# Shop\n^shop@x\\.com$ me@x.com", string(allow))

	out, _, err = run(t, "render", "--map", "block")
	require.NoError(t, err)
	assert.Equal(t, "# Spam\n@spam\\.com$ REJECT go away\n", out)

	out, _, err = run(t, "render")
	require.NoError(t, err)
	assert.Contains(t, out, "### allow map")
	assert.Contains(t, out, "### reject map")

	require.NoError(t, os.Remove(filepath.Join(dir, "reject.map")))
	out, _, err = run(t, "reload", "--map", "block")
	require.NoError(t, err)
	assert.Contains(t, out, "reject.map")
	assert.NotContains(t, out, "aliases.map")
	assert.FileExists(t, filepath.Join(dir, "reject.map"))

	_, _, err = run(t, "render", "--map", "nope")
	assert.Error(t, err)
}

func TestImport_InvalidBatch(t *testing.T) {
	dir := offlineConfig(t)

	legacy := filepath.Join(dir, "legacy.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{
		"good@x.com": {"user": "me", "description": "ok"},
		"bad@x.com": {"user": "me"}
	}`), 0644))

	_, stderr, err := run(t, "import", legacy)
	require.Error(t, err)
	assert.Contains(t, stderr, "description required")

	content, err := os.ReadFile(filepath.Join(dir, "aliases.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "good@x.com")
}

func TestReload_CommandFailure(t *testing.T) {
	offlineConfig(t)
	t.Setenv("ALIASMAP_RELOAD_COMMAND", "exit 4")

	_, stderr, err := run(t, "reload")
	require.Error(t, err)
	assert.Contains(t, stderr, "Reload failed")
	assert.Contains(t, stderr, "exit 4")
}

func startServer(t *testing.T, records ...domain.AliasRecord) string {
	gin.SetMode(gin.TestMode)

	store, err := memory.NewStoreWithAliases(records)
	require.NoError(t, err)
	seq := service.NewSequencer(store, nil, nil, service.ReloadOptions{}, nil)
	svc := service.NewAliasService(store, seq, service.Defaults{DefaultUser: "postmaster", DefaultDomain: "example.com"}, nil)
	hub := websocket.NewHub(websocket.NewDispatcher(svc, nil), websocket.Options{}, nil)
	svc.SetNotifier(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		AliasService: svc,
		WebSocketHub: hub,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
}

func TestRemoteCommands(t *testing.T) {
	url := startServer(t, domain.AliasRecord{Pattern: "existing@x.com", Destination: "me", Description: "Existing"})

	out, _, err := run(t, "--server", url, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "existing@x.com")
	assert.Contains(t, out, "1 of 1 aliases")

	out, _, err = run(t, "--server", url, "add", "--alias", "shop@example.com", "--description", "Shop")
	require.NoError(t, err)
	assert.Contains(t, out, "saved shop@example.com")

	out, _, err = run(t, "--server", url, "add", "--random", "8", "--description", "Random")
	require.NoError(t, err)
	assert.Regexp(t, `saved [0-9a-y]{8}@example\.com`, out)

	_, stderr, err := run(t, "--server", url, "add", "--alias", "nodesc@example.com")
	require.Error(t, err)
	assert.Contains(t, stderr, "description required")

	out, _, err = run(t, "--server", url, "list", "--search", "SHOP")
	require.NoError(t, err)
	assert.Contains(t, out, "shop@example.com")
	assert.Contains(t, out, "postmaster")
	assert.Contains(t, out, "1 of 3 aliases")

	out, _, err = run(t, "--server", url, "delete", "shop@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 record(s)")

	_, stderr, err = run(t, "--server", url, "delete", "shop@example.com")
	require.Error(t, err)
	assert.Contains(t, stderr, "Delete rejected")
}

func TestRemote_ConnectFailure(t *testing.T) {
	_, stderr, err := run(t, "--server", "ws://127.0.0.1:1/v1/ws", "--timeout", "2s", "list")
	require.Error(t, err)
	assert.Contains(t, stderr, "Failed to connect")
}
