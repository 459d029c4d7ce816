package wslog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func initTestLogger(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "debug.log")
	cleanup, err := InitWithTeaLog(path, "test")
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return path
}

func TestWrite_RendersSubsystemAndFields(t *testing.T) {
	path := initTestLogger(t)

	Info(CatLoop, "dispatched", "event", "UserText")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	require.Contains(t, out, "level=INFO")
	require.Contains(t, out, "subsystem=loop")
	require.Contains(t, out, "msg=dispatched")
	require.Contains(t, out, "event=UserText")
}

func TestTail_ReceivesRenderedLines(t *testing.T) {
	initTestLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tail := Tail(ctx)

	Warn(CatRelay, "connection lost", "backoff", "2s")

	select {
	case evt := <-tail:
		require.Contains(t, evt.Payload, "connection lost")
		require.Contains(t, evt.Payload, "subsystem=relay")
	case <-time.After(time.Second):
		t.Fatal("tail never received the log line")
	}
}

func TestTail_UninitializedReturnsClosedChannel(t *testing.T) {
	// No initTestLogger here: broker is nil unless another test's logger is
	// still installed, which t.Cleanup prevents.
	ch := Tail(context.Background())
	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel must be closed, not deliver events")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected an already-closed channel")
	}
}

func TestUninitializedLoggingIsNoop(t *testing.T) {
	// Must not panic or block before InitWithTeaLog has run.
	Debug(CatConfig, "before init", "k", "v")
	Error(CatConfig, "also before init")
}

func TestTypeName(t *testing.T) {
	require.Equal(t, "<nil>", TypeName(nil))
	type widget struct{}
	require.Equal(t, "wslog.widget", TypeName(widget{}))
}
