package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/channel"
	"github.com/roach88/stockline/internal/journal"
	"github.com/roach88/stockline/internal/session"
	"github.com/roach88/stockline/internal/testutil"
)

// journalWithEvent records a resync snapshot of the kitchen and one
// applied inventory update (tomatoes to 3).
func journalWithEvent(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stockline.db")

	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	srv := newTestServer()
	feed := testutil.NewFeed()
	srv.SetSink(feed.Deliver)
	feed.Set(channel.StateConnected)

	ctx := context.Background()
	s, err := session.Open(ctx, srv, kitchen, session.Options{Journal: j, Feed: feed})
	require.NoError(t, err)
	defer s.Close()

	srv.ExternalUpdate(tomatoes, kitchen, 3, 10)
	require.NoError(t, s.Sync(ctx))
	return path
}

func TestReplay_FromJournal(t *testing.T) {
	path := journalWithEvent(t)

	out, err := execute(t, nil, "replay", "--journal", path, "--warehouse", "1", "--events", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	r := resp.Data
	assert.True(t, r.FromSnapshot)
	assert.True(t, r.Deterministic)
	assert.NotEmpty(t, r.Digest)
	assert.Equal(t, 1, r.Applied)
	require.Len(t, r.Records, 1)
	assert.Equal(t, 3, r.Records[0].Quantity)
	require.Len(t, r.Events, 1)
	assert.Equal(t, "inventory:updated", r.Events[0].Event)
	assert.Equal(t, "evt-1", r.Events[0].ID)
	assert.Equal(t, "applied", r.Events[0].Outcome)
}

func TestReplay_Text(t *testing.T) {
	path := journalWithEvent(t)

	out, err := execute(t, nil, "replay", "--journal", path, "--warehouse", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Warehouse 1 rebuilt from snapshot + events")
	assert.Contains(t, out, "applied: 1, skipped: 0")
	assert.Contains(t, out, "✓ Deterministic")
}

func TestReplay_JournalFromConfig(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "view.db")
	cfgPath := filepath.Join(dir, "stockline.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("warehouse: 1\njournal:\n  path: %s\n", dbPath)), 0o644))

	_, err := execute(t, newTestServer(), "view", "--config", cfgPath)
	require.NoError(t, err)

	out, err := execute(t, nil, "replay", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "rebuilt from snapshot + events")
	assert.Regexp(t, `7\s+10\s+10`, out)
}

func TestReplay_NoJournal(t *testing.T) {
	_, err := execute(t, nil, "replay", "--warehouse", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no journal")
}
