package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 6576, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0:6576", cfg.Server.Addr())
		assert.Equal(t, "web", cfg.Server.StaticDir)
		assert.Equal(t, os.FileMode(0644), cfg.Maps.FileMode)
		assert.Empty(t, cfg.Maps.AllowPath)
		assert.Empty(t, cfg.Reload.Command)
		assert.Equal(t, time.Duration(0), cfg.Reload.Timeout)
		assert.True(t, cfg.Reload.OnStart)
		assert.Equal(t, "file", cfg.Store.Type)
		assert.Equal(t, "./data/aliases.json", cfg.Store.Path)
		assert.Equal(t, "sqlite3", cfg.Database.Driver)
		assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
		assert.Equal(t, "aliasmap", cfg.Redis.Prefix)
		assert.Equal(t, 10*time.Minute, cfg.Redis.CacheTTL)
		assert.Equal(t, 8, cfg.WS.Workers)
		assert.Equal(t, 256, cfg.WS.QueueSize)
		assert.Equal(t, 20.0, cfg.WS.Rate)
		assert.Equal(t, 40, cfg.WS.Burst)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		t.Setenv("ALIASMAP_SERVER_PORT", "9090")
		t.Setenv("ALIASMAP_MAPS_ALLOW_PATH", "/etc/postfix/aliases.map")
		t.Setenv("ALIASMAP_MAPS_FILE_MODE", "0600")
		t.Setenv("ALIASMAP_RELOAD_COMMAND", "postmap /etc/postfix/aliases.map")
		t.Setenv("ALIASMAP_RELOAD_TIMEOUT", "30s")
		t.Setenv("ALIASMAP_DEFAULTS_DOMAIN", "@example.com")
		t.Setenv("ALIASMAP_STORE_TYPE", "SQL")
		t.Setenv("ALIASMAP_DATABASE_DRIVER", "postgres")
		t.Setenv("ALIASMAP_DATABASE_DSN", "postgres://u:p@localhost/aliases")
		t.Setenv("ALIASMAP_CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
		t.Setenv("ALIASMAP_LOG_LEVEL", "DEBUG")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "/etc/postfix/aliases.map", cfg.Maps.AllowPath)
		assert.Equal(t, os.FileMode(0600), cfg.Maps.FileMode)
		assert.Equal(t, "postmap /etc/postfix/aliases.map", cfg.Reload.Command)
		assert.Equal(t, 30*time.Second, cfg.Reload.Timeout)
		assert.Equal(t, "example.com", cfg.Defaults.Domain)
		assert.Equal(t, "sql", cfg.Store.Type)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("配置文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aliasmap.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store:\n  type: memory\ndefaults:\n  user: postmaster\n"), 0644))
		t.Setenv("ALIASMAP_CONFIG", path)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Store.Type)
		assert.Equal(t, "postmaster", cfg.Defaults.User)
	})

	t.Run("配置文件不存在", func(t *testing.T) {
		t.Setenv("ALIASMAP_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"未知存储类型", "ALIASMAP_STORE_TYPE", "etcd"},
		{"未知数据库驱动", "ALIASMAP_DATABASE_DRIVER", "oracle"},
		{"端口越界", "ALIASMAP_SERVER_PORT", "70000"},
		{"无效文件权限", "ALIASMAP_MAPS_FILE_MODE", "rw-r--r--"},
		{"无效超时", "ALIASMAP_RELOAD_TIMEOUT", "soon"},
		{"无效日志级别", "ALIASMAP_LOG_LEVEL", "verbose"},
		{"工作协程为零", "ALIASMAP_WS_WORKERS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a , ,b "))
	assert.Empty(t, parseList(""))
}

func TestValidate_StoreRequirements(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate())

	cfg.Store.Type = "badger"
	cfg.Badger.Path = ""
	assert.Error(t, cfg.Validate())
	cfg.Badger.InMemory = true
	assert.NoError(t, cfg.Validate())

	cfg.Store.Type = "hybrid"
	cfg.Database.DSN = ""
	assert.Error(t, cfg.Validate())
}
