package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/config"
	"github.com/roach88/stockline/internal/session"
	"github.com/roach88/stockline/internal/testutil"
)

const (
	tomatoes = int64(7)
	limes    = int64(9)
	kitchen  = int64(1)
	bar      = int64(2)
)

// newTestServer seeds tomatoes at 10/10 in the kitchen and 30 in the bar,
// and limes unstocked.
func newTestServer() *testutil.FakeServer {
	srv := testutil.NewFakeServer()
	srv.AddWarehouse(kitchen, "Main kitchen")
	srv.AddWarehouse(bar, "Bar")
	srv.AddItem(api.Item{ID: tomatoes, Name: "Tomatoes"})
	srv.AddItem(api.Item{ID: limes, Name: "Limes"})
	srv.SetStock(tomatoes, kitchen, 10, 10)
	srv.SetStock(tomatoes, bar, 30, 0)
	return srv
}

// execute runs the CLI against srv with no .env file and returns stdout.
func execute(t *testing.T, srv *testutil.FakeServer, args ...string) (string, error) {
	t.Helper()

	opts := &RootOptions{}
	if srv != nil {
		opts.NewBackend = func(*config.Config) session.Backend { return srv }
	}
	cmd := newRootCommand(opts)

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))

	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "stockline", cmd.Use)
	assert.Contains(t, cmd.Long, "server of record")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"view", "watch", "transfer", "alerts", "replay", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, newTestServer(), "view", "--warehouse", "1", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, newTestServer(), "view", "--warehouse", "1", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestNewLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, false, buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger = newLogger(config.LogConfig{Level: "error", Format: "text"}, true, buf)
	logger.Debug("verbose wins")
	assert.Contains(t, buf.String(), "verbose wins")
}

func TestWarehouseOf(t *testing.T) {
	cfg := config.Default()

	_, err := warehouseOf(0, cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	wh, err := warehouseOf(3, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(3), wh)

	cfg.Warehouse = 2
	wh, err = warehouseOf(0, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(2), wh)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
