package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/kgraph/internal/ingest"
)

type fakeIngestor struct {
	mu        sync.Mutex
	ingested  []string
	removed   []string
	ingestErr error
}

func (f *fakeIngestor) IngestFile(_ context.Context, path string) (ingest.ParseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return ingest.ParseResult{}, f.ingestErr
	}
	f.ingested = append(f.ingested, path)
	return ingest.ParseResult{Status: ingest.StatusOK}, nil
}

func (f *fakeIngestor) RemoveFile(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeIngestor) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ingested...), append([]string(nil), f.removed...)
}

func drainNotifications(t *testing.T, w *Watcher, quiet time.Duration) []Notification {
	t.Helper()
	var out []Notification
	for {
		select {
		case n, ok := <-w.Notifications():
			if !ok {
				return out
			}
			out = append(out, n)
		case <-time.After(quiet):
			return out
		}
	}
}

func TestClassifyMapsOpsToEventTypes(t *testing.T) {
	require.Equal(t, EventAdd, classify(fsnotify.Create))
	require.Equal(t, EventChange, classify(fsnotify.Write))
	require.Equal(t, EventUnlink, classify(fsnotify.Remove))
	require.Equal(t, EventUnlink, classify(fsnotify.Rename))
	require.Equal(t, EventType(""), classify(fsnotify.Chmod))
}

func TestRelevantFiltersByExtensionAndIgnoreDir(t *testing.T) {
	w, err := newWatcher(t.TempDir(), &fakeIngestor{}, Options{})
	require.NoError(t, err)
	defer w.fsWatcher.Close()

	require.True(t, w.relevant("/proj/src/a.ts"))
	require.False(t, w.relevant("/proj/src/a.md"))
	require.False(t, w.relevant("/proj/node_modules/pkg/a.ts"))
}

func TestWatcherDebouncesRapidWritesIntoOneIngest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	fi := &fakeIngestor{}
	w, err := Start(context.Background(), dir, fi, Options{Debounce: 30 * time.Millisecond, Stability: 20 * time.Millisecond})
	require.NoError(t, err)
	defer Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("x = 2\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	notifications := drainNotifications(t, w, 300*time.Millisecond)

	ingested, _ := fi.snapshot()
	require.Len(t, ingested, 1)
	require.Equal(t, path, ingested[0])

	var sawChanged, sawUpdated bool
	for _, n := range notifications {
		if n.Type == NotifyFileChanged {
			sawChanged = true
		}
		if n.Type == NotifyGraphUpdated {
			sawUpdated = true
		}
	}
	require.True(t, sawChanged)
	require.True(t, sawUpdated)
}

func TestWatcherHandlesUnlink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	fi := &fakeIngestor{}
	w, err := Start(context.Background(), dir, fi, Options{Debounce: 20 * time.Millisecond, Stability: 10 * time.Millisecond})
	require.NoError(t, err)
	defer Stop()

	require.NoError(t, os.Remove(path))

	drainNotifications(t, w, 300*time.Millisecond)

	_, removed := fi.snapshot()
	require.Len(t, removed, 1)
	require.Equal(t, path, removed[0])
}

func TestStartReplacesPriorSingleton(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	w1, err := Start(context.Background(), dirA, &fakeIngestor{}, Options{})
	require.NoError(t, err)

	w2, err := Start(context.Background(), dirB, &fakeIngestor{}, Options{})
	require.NoError(t, err)
	defer Stop()

	require.False(t, w1.running)
	require.True(t, w2.running)
}
