package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Listen)
	assert.Equal(t, "hosts", cfg.Block.Engine)
	assert.Equal(t, "/etc/hosts", cfg.Block.HostsFile)
	assert.Equal(t, []string{"www", "m", "mobile", "old"}, cfg.Block.Subdomains)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Notify.Enabled)
	assert.Empty(t, cfg.Remote.Driver)
}

func TestFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/tg
listen: 127.0.0.1:9000
block:
  engine: none
remote:
  driver: mysql
  dsn: user:pw@tcp(db:3306)/taskgate
bridge:
  command: [taskgate-md, --watch]
  task_file: /home/me/todo.md
`), 0644))
	t.Setenv("TASKGATE_LOG_LEVEL", "debug")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tg/taskgate.db", cfg.DBPath())
	assert.Equal(t, "/tmp/tg/taskgate.lock", cfg.LockPath())
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "none", cfg.Block.Engine)
	assert.Equal(t, "mysql", cfg.Remote.Driver)
	assert.Equal(t, []string{"taskgate-md", "--watch"}, cfg.Bridge.Command)
	assert.Equal(t, "/home/me/todo.md", cfg.Bridge.TaskFile)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0644))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	levels := make(chan string, 8)
	l.Watch(func(cfg *Config, err error) {
		if err == nil {
			levels <- cfg.Log.Level
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))
	// a rewrite can surface as several events, some seeing a truncated file
	timeout := time.After(5 * time.Second)
	for {
		select {
		case level := <-levels:
			if level == "debug" {
				return
			}
		case <-timeout:
			t.Fatal("config change not observed")
		}
	}
}

func TestLoggerLevelIsLive(t *testing.T) {
	var buf bytes.Buffer
	var level slog.LevelVar
	level.Set(ParseLevel("warn"))
	log := NewLogger(&buf, "json", &level)

	log.Info("hidden")
	assert.Empty(t, buf.String())

	level.Set(ParseLevel("DEBUG"))
	log.Debug("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
