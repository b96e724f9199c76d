package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"repoanalyzer/internal/analysis"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(t *testing.T, s *Stream) []Event {
	t.Helper()
	var out []Event
	err := Drain(context.Background(), s, func(ev Event) error {
		out = append(out, ev)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestNothingFollowsTerminalEvent(t *testing.T) {
	s := New(8)
	require.NoError(t, s.Emit(Progress("one", "sid")))
	require.NoError(t, s.Emit(SelectModules([]string{"m"}, "sid", "/r")))
	assert.ErrorIs(t, s.Emit(Progress("late", "sid")), ErrClosed)
	assert.ErrorIs(t, s.Emit(Error("late")), ErrClosed)
	assert.True(t, s.Terminated())

	got := collect(t, s)
	require.Len(t, got, 2)
	assert.Equal(t, TypeProgress, got[0].Type)
	assert.Equal(t, TypeSelectModules, got[1].Type)
}

func TestAbandonedStreamNeverBlocksProducer(t *testing.T) {
	s := New(0)
	s.Abandon()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = s.Emit(Progress("p", ""))
		}
		_ = s.Emit(Result(analysis.Report{}))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on abandoned stream")
	}
}

func TestObserversSeeEventsAfterAbandon(t *testing.T) {
	s := New(0)
	var seen []Type
	s.Observe(func(ev Event) { seen = append(seen, ev.Type) })
	s.Abandon()
	require.NoError(t, s.Emit(Progress("p", "")))
	require.NoError(t, s.Emit(Error("boom")))
	assert.Equal(t, []Type{TypeProgress, TypeError}, seen)
}

func TestDrainAbandonsOnSendError(t *testing.T) {
	s := New(0)
	sendErr := errors.New("client gone")

	produced := make(chan struct{})
	go func() {
		defer close(produced)
		_ = s.Emit(Progress("first", ""))
		_ = s.Emit(Progress("second", ""))
		_ = s.Emit(Result(analysis.Report{}))
	}()

	err := Drain(context.Background(), s, func(Event) error { return sendErr })
	assert.ErrorIs(t, err, sendErr)
	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not finish after abandon")
	}
}

func TestDrainStopsOnContext(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Drain(ctx, s, func(Event) error { return nil }), context.Canceled)
	require.NoError(t, s.Emit(Result(analysis.Report{})))
}

func TestEncoderWritesOneRecordPerLine(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewEncoder(rec)
	require.NoError(t, enc.Encode(Progress("Fetching <repo>", "m2-1")))
	require.NoError(t, enc.Encode(Result(analysis.Report{})))
	assert.True(t, rec.Flushed)

	sc := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, map[string]any{"type": "progress", "message": "Fetching <repo>", "sessionId": "m2-1"}, lines[0])
	assert.Equal(t, map[string]any{"type": "result", "data": map[string]any{"results": []any{}}}, lines[1])
	assert.Contains(t, rec.Body.String(), "Fetching <repo>")
}

func TestTerminalTypes(t *testing.T) {
	assert.False(t, Progress("x", "").Terminal())
	assert.True(t, Error("x").Terminal())
	assert.True(t, Result(analysis.Report{}).Terminal())
	assert.True(t, SelectModules(nil, "s", "/r").Terminal())
	assert.NotNil(t, SelectModules(nil, "s", "/r").Modules)
}
