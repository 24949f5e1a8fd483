package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_Disabled(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("influx.enabled", false)

	m := NewManager(zerolog.Nop(), filepath.Join(t.TempDir(), "backup.gz"))
	assert.ErrorIs(t, m.Connect(), ErrDisabled)
	assert.False(t, m.IsValid)
}

func TestNewManager_Bucket(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("influx.bucket", "perf")

	m := NewManager(zerolog.Nop(), "")
	assert.Equal(t, "perf", m.Bucket())
	assert.Equal(t, []string{"perf"}, m.BucketNames)
}

func TestWritePoint_NoBackup(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	err := m.WritePoint(context.Background(), "perf", NewStatsPoint("relay", "n", map[string]any{"queued": 1}, time.Now()))
	assert.Error(t, err)
}

func TestConnect_UnreachableWritesBackup(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("influx.enabled", true)
	viper.Set("influx.protocol", "http")
	viper.Set("influx.host", "127.0.0.1")
	viper.Set("influx.port", "1")
	viper.Set("influx.bucket", "perf")

	path := filepath.Join(t.TempDir(), "backup.gz")
	m := NewManager(zerolog.Nop(), path)
	require.NoError(t, m.Connect())
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	ts := time.Unix(1700000000, 0)
	p := NewStatsPoint("relay", "teaching_markers_server", map[string]any{"published": int64(7)}, ts)
	require.NoError(t, m.WritePoint(context.Background(), m.Bucket(), p))
	require.NoError(t, m.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)

	assert.Contains(t, string(body), "relay,node=teaching_markers_server published=7i 1700000000000000000")
}

func TestNewStatsPoint(t *testing.T) {
	ts := time.Unix(10, 0)
	p := NewStatsPoint("broadcast", "node1", map[string]any{"ticks": uint64(3)}, ts)

	assert.Equal(t, "broadcast", p.Name())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "node", p.TagList()[0].Key)
	assert.Equal(t, "node1", p.TagList()[0].Value)
	assert.Equal(t, ts, p.Time())
}
