package eventlog

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlab-dev/runlab/internal/ndjson"
)

func TestAppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "sess.ndjson")

	log, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, log.Append(Record{SessionID: "s1", Kind: "state", Text: "running"}))
	require.NoError(t, log.Append(Record{SessionID: "s1", Kind: "output", Text: "hello"}))
	require.NoError(t, log.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := ndjson.NewDecoder(f)
	var first, second Record
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	assert.Equal(t, "state", first.Kind)
	assert.Equal(t, "running", first.Text)
	assert.False(t, first.Time.IsZero(), "unstamped records get a timestamp")
	assert.Equal(t, "output", second.Kind)

	var extra Record
	assert.Equal(t, io.EOF, dec.Decode(&extra))
}

func TestAppendKeepsExplicitTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.ndjson")

	log, err := Open(path)
	require.NoError(t, err)

	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, log.Append(Record{Time: stamp, SessionID: "s1", Kind: "state", Text: "idle"}))
	require.NoError(t, log.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var rec Record
	require.NoError(t, ndjson.NewDecoder(f).Decode(&rec))
	assert.True(t, stamp.Equal(rec.Time))
}

func TestOpenAppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.ndjson")

	log1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log1.Append(Record{SessionID: "s1", Kind: "a", Text: "1"}))
	require.NoError(t, log1.Close())

	log2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log2.Append(Record{SessionID: "s1", Kind: "b", Text: "2"}))
	require.NoError(t, log2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"a"`)
	assert.Contains(t, string(data), `"kind":"b"`)
}
