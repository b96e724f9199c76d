package trace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"repoanalyzer/internal/analysis"
	"repoanalyzer/internal/stream"
)

func TestObserverPersistsEvents(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, nil)
	obs := l.Observer("m2-1-abc")

	obs(stream.Progress("Starting analysis...", "m2-1-abc"))
	obs(stream.SelectModules([]string{"/w/app/code/A/B"}, "m2-1-abc", "/w/repo"))
	obs(stream.Result(analysis.Report{}))

	recs, err := l.Read("m2-1-abc")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "progress", recs[0].Stage)
	assert.Equal(t, "Starting analysis...", recs[0].Fields["message"])
	assert.Equal(t, "select-modules", recs[1].Stage)
	assert.Equal(t, "/w/repo", recs[1].Fields["root_path"])
	assert.Equal(t, "result", recs[2].Stage)
	assert.EqualValues(t, 0, recs[2].Fields["results"])
	for _, r := range recs {
		assert.Equal(t, "stream", r.Source)
		assert.Equal(t, "m2-1-abc", r.SessionID)
	}
}

func TestReadMissingAndMalformed(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, nil)

	recs, err := l.Read("nobody")
	require.NoError(t, err)
	assert.Empty(t, recs)

	path := filepath.Join(dir, "s1.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n\n{\"stage\":\"progress\"}\n"), 0o644))
	recs, err = l.Read("s1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "progress", recs[0].Stage)
}

func TestSessionIDIsSanitized(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, nil)
	l.Append("../../etc/passwd", "stream", "progress", nil)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^_\.\._etc_passwd__[0-9a-f]{12}\.jsonl$`, entries[0].Name())

	l.Append("team/alpha", "stream", "progress", nil)
	l.Append("team_alpha", "stream", "progress", nil)
	entries, _ = os.ReadDir(dir)
	assert.Len(t, entries, 3, "look-alike session ids keep separate files")
	recs, err := l.Read("team_alpha")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "team_alpha", recs[0].SessionID)

	l.Append("   ", "stream", "progress", nil)
	entries, _ = os.ReadDir(dir)
	assert.Len(t, entries, 3, "blank session ids are not recorded")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(t.TempDir(), zap.New(core))

	l.write(failingWriter{}, "s1", []byte("{}\n"))

	entries := logs.FilterMessage("trace write failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].ContextMap()["session_id"])
	assert.Equal(t, "disk full", entries[0].ContextMap()["error"])
}
