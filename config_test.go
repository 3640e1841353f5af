package memlab

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memlab/chunk"
	"github.com/hupe1980/memlab/pool"
	"github.com/hupe1980/memlab/sink"
	"github.com/hupe1980/memlab/testutil"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`{
		"chunk_size": 1048576,
		"max_alloc": 65536,
		"initial_chunks": 4,
		"durable": true,
		"acquire_timeout": "250ms",
		"persist_timeout": 5000000000
	}`))
	require.NoError(t, err)

	assert.Equal(t, 1<<20, cfg.ChunkSize)
	assert.Equal(t, 64<<10, cfg.MaxAlloc)
	assert.Equal(t, 4, cfg.InitialChunks)
	assert.True(t, cfg.Durable)
	assert.Equal(t, Duration(250*time.Millisecond), cfg.AcquireTimeout)
	assert.Equal(t, Duration(5*time.Second), cfg.PersistTimeout)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, pool.DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, DefaultMaxAlloc, cfg.MaxAlloc)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{"unknown field", `{"chunk":1}`, ""},
		{"bad duration", `{"acquire_timeout":"soon"}`, ""},
		{"max alloc over chunk", `{"chunk_size":1024,"max_alloc":2048}`, "max_alloc"},
		{"zero chunk", `{"chunk_size":0}`, "chunk_size"},
		{"negative pooled", `{"max_pooled_chunks":-1}`, "max_pooled_chunks"},
		{"initial over limit", `{"chunk_size":1024,"max_alloc":1024,"initial_chunks":3,"memory_limit_bytes":2048}`, "initial_chunks"},
		{"unknown codec", `{"durable":true,"journal_compression":"brotli"}`, "journal_compression"},
		{"journal without durable", `{"journal_path":"/tmp/x"}`, "journal_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(strings.NewReader(tt.input))
			require.Error(t, err)
			if tt.field != "" {
				var cfgErr *ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, tt.field, cfgErr.Field)
			}
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	b, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(b))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"2m"`), &d))
	assert.Equal(t, Duration(2*time.Minute), d)
	require.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OffHeap = true
	cfg.MemoryLimit = 64 << 20

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(cfg))

	loaded, err := LoadConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_NewPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSize = 64 << 10
	cfg.MaxAlloc = 16 << 10
	cfg.InitialChunks = 2
	cfg.MemoryLimit = 4 * (64 << 10)

	p, err := cfg.NewPool()
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, chunk.Plain, p.Kind())
	st := p.Stats()
	assert.Equal(t, uint64(2), st.Created)
	assert.Equal(t, 2, st.Free)

	a, err := New(p, cfg.AllocatorOptions()...)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 16<<10, a.MaxAlloc())

	_, err = a.Allocate(context.Background(), testutil.SizedCell(20<<10, 1))
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestConfig_NewPoolWithJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal", "journal.seg")

	cfg := DefaultConfig()
	cfg.Durable = true
	cfg.JournalPath = path
	cfg.JournalCompression = "zstd"

	p, err := cfg.NewPool()
	require.NoError(t, err)
	assert.Equal(t, chunk.Durable, p.Kind())

	a, err := New(p, cfg.AllocatorOptions()...)
	require.NoError(t, err)

	cells := testutil.SizedBatch(5, 1024, 1)
	_, err = a.AllocateBatch(context.Background(), cells, true)
	require.NoError(t, err)
	require.NoError(t, a.Persist(context.Background(), 5, true))

	a.Close()
	require.NoError(t, p.Close())

	segs, err := sink.ReadJournal(path)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, 5*1024+12+5*4, len(segs[0].Data))
}
