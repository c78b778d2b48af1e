package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (w *captureWriter) Write(_ context.Context, entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.entries = append(w.entries, entry)
	return nil
}

func (w *captureWriter) all() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

func TestLogSuccessAndFailureProduceOneEntryEach(t *testing.T) {
	writer := &captureWriter{}
	rec := NewRecorder(writer, nil, nil, 16)

	rec.LogSuccess(context.Background(), ActionPasswordChange, "alice", "SELF", "changed password")
	rec.LogFailure(context.Background(), ActionPasswordChange, "alice", "SELF", "incorrect current password")
	rec.Close()

	entries := writer.all()
	require.Len(t, entries, 2)
	require.Equal(t, StatusSuccess, entries[0].Status)
	require.Equal(t, StatusFailure, entries[1].Status)
	for _, entry := range entries {
		require.Equal(t, ActionPasswordChange, entry.Action)
		require.Equal(t, "alice", entry.Username)
		require.False(t, entry.Timestamp.IsZero())
	}
}

func TestLogRecordsAnonymousActor(t *testing.T) {
	writer := &captureWriter{}
	rec := NewRecorder(writer, nil, nil, 4)

	rec.LogFailure(context.Background(), ActionLogin, "", "", "unknown account")
	rec.Close()

	entries := writer.all()
	require.Len(t, entries, 1)
	require.Equal(t, AnonymousUser, entries[0].Username)
}

func TestPersistenceFailureNeverReachesCaller(t *testing.T) {
	writer := &captureWriter{err: errors.New("connection refused")}
	rec := NewRecorder(writer, nil, nil, 4)

	// Must not panic or block; the caller's operation proceeds.
	rec.LogSuccess(context.Background(), ActionUpdateUser, "admin", "user:bob", "updated email")
	rec.Close()

	require.Empty(t, writer.all())
	require.Equal(t, uint64(1), rec.Dropped())
}

func TestCloseDrainsBufferedEntries(t *testing.T) {
	writer := &captureWriter{}
	rec := NewRecorder(writer, nil, nil, 64)

	for i := 0; i < 20; i++ {
		rec.LogSuccess(context.Background(), ActionLogin, "alice", "", "")
	}
	rec.Close()

	require.Len(t, writer.all(), 20)
	require.Zero(t, rec.Dropped())
}

func TestShutdownRaceDropIsCounted(t *testing.T) {
	writer := &captureWriter{}
	rec := NewRecorder(writer, nil, nil, 1)
	rec.Close()

	// Model a caller that passed the closed check just as shutdown began:
	// reopen the gate and fill the buffer so the send cannot win.
	rec.closed.Store(false)
	rec.ch <- Entry{Action: ActionLogin}

	rec.LogFailure(context.Background(), ActionLogin, "alice", "", "unknown account")
	require.Equal(t, uint64(1), rec.Dropped())
}

func TestLogAfterCloseIsNoOp(t *testing.T) {
	writer := &captureWriter{}
	rec := NewRecorder(writer, nil, nil, 4)
	rec.Close()

	rec.LogSuccess(context.Background(), ActionLogin, "alice", "", "")
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, writer.all())
}
