package watcher

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sphyctre/internal/nutraw"
)

func header(plotname string, points int) string {
	return "Title: watch\nDate: today\nPlotname: " + plotname + "\nFlags: real\n" +
		"No. Variables: 2\nNo. Points: " + strconv.Itoa(points) + "\n" +
		"Variables:\n\t0\ttime\ttime\n\t1\tv1\tvoltage\nBinary:\n"
}

func rows(values ...float64) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func appendFile(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func testOptions() Options {
	return Options{
		ByteOrder:    nutraw.EndianLittle,
		PollInterval: 20 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// startWatcher runs a watcher until the test ends
func startWatcher(t *testing.T, path string, opts Options) *Watcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := New(path, opts)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		for range w.Updates() {
		}
		require.NoError(t, <-done)
	})
	return w
}

// waitFor reads updates until match returns true
func waitFor(t *testing.T, w *Watcher, match func(Update) bool) Update {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-w.Updates():
			require.True(t, ok, "updates closed")
			if match(u) {
				return u
			}
		case <-timeout:
			t.Fatal("timed out waiting for update")
		}
	}
}

func hasKind(kind nutraw.EventKind) func(Update) bool {
	return func(u Update) bool {
		for _, ev := range u.Events {
			if ev.Kind == kind {
				return true
			}
		}
		return false
	}
}

func TestWatcherFollowsGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	appendFile(t, path, append([]byte(header("Transient Analysis", 3)), rows(0, 0)...))

	w := startWatcher(t, path, testOptions())
	u := waitFor(t, w, hasKind(nutraw.EventRows))
	require.False(t, u.Restarted)

	// half a row first, then the rest
	rest := rows(1e-6, 0.8, 2e-6, 1.2)
	appendFile(t, path, rest[:12])
	appendFile(t, path, rest[12:])

	waitFor(t, w, hasKind(nutraw.EventComplete))
	v1, err := w.Store().Real("Transient Analysis", "v1")
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0.8, 1.2}, v1)
}

func TestWatcherRestartsOnReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.raw")

	var first bytes.Buffer
	first.WriteString(header("Operating Point", 1))
	first.Write(rows(0, 3.3))
	first.WriteString(header("Transient Analysis", 3))
	first.Write(rows(0, 0))
	appendFile(t, path, first.Bytes())

	w := startWatcher(t, path, testOptions())
	waitFor(t, w, func(u Update) bool {
		_, err := w.Store().Get("Operating Point")
		return err == nil
	})

	// the simulator writes a temp file and renames it over the old one
	tmp := filepath.Join(dir, "out.raw.tmp")
	appendFile(t, tmp, append([]byte(header("Transient Analysis", 3)), rows(0, 0, 1e-6, 0.5, 2e-6, 0.9)...))
	require.NoError(t, os.Rename(tmp, path))

	u := waitFor(t, w, func(u Update) bool { return u.Restarted })
	if !hasKind(nutraw.EventComplete)(u) {
		waitFor(t, w, hasKind(nutraw.EventComplete))
	}

	op, err := w.Store().Real("Operating Point", "v1")
	require.NoError(t, err)
	require.Equal(t, []float64{3.3}, op)
	v1, err := w.Store().Real("Transient Analysis", "v1")
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0.5, 0.9}, v1)
}

func TestWatcherRestartsOnTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	appendFile(t, path, append([]byte(header("Transient Analysis", 3)), rows(0, 0, 1e-6, 0.8)...))

	opts := testOptions()
	opts.NoNotify = true
	w := startWatcher(t, path, opts)
	waitFor(t, w, hasKind(nutraw.EventRows))

	require.NoError(t, os.WriteFile(path, []byte(header("AC Analysis", 1)), 0o644))
	waitFor(t, w, func(u Update) bool { return u.Restarted })
}

func TestWatcherReportsDecodeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	appendFile(t, path, []byte("this is not a raw file\n"))

	w := startWatcher(t, path, testOptions())
	u := waitFor(t, w, func(u Update) bool { return u.Err != nil })
	require.ErrorIs(t, u.Err, nutraw.ErrMalformedHeader)
}

func TestWatchClosesOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	appendFile(t, path, append([]byte(header("Transient Analysis", 1)), rows(0, 1)...))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		updates int
		plots   int
		err     error
	}
	done := make(chan result, 1)
	go func() {
		var n int
		store, err := Watch(ctx, path, testOptions(), func(u Update) {
			n++
			cancel()
		})
		done <- result{updates: n, plots: store.Len(), err: err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, 1, r.updates)
		require.Equal(t, 1, r.plots)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
