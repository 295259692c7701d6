package systemd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// listen binds a notify socket and points NOTIFY_SOCKET at it.
func listen(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram sockets unavailable: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func receive(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("no notification received: %v", err)
	}
	return string(buf[:n])
}

func TestNotifier_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := NewNotifier(discard())
	if n.Ready() {
		t.Error("Ready reported sent without a notify socket")
	}
	if n.Stopping() {
		t.Error("Stopping reported sent without a notify socket")
	}
}

func TestNotifier_States(t *testing.T) {
	conn := listen(t)
	n := NewNotifier(discard())

	if !n.Ready() {
		t.Fatal("Ready not sent")
	}
	if got := receive(t, conn); got != "READY=1" {
		t.Errorf("got %q, want READY=1", got)
	}

	n.Status("%d sessions streaming", 3)
	if got := receive(t, conn); got != "STATUS=3 sessions streaming" {
		t.Errorf("got %q", got)
	}

	n.Stopping()
	if got := receive(t, conn); got != "STOPPING=1" {
		t.Errorf("got %q, want STOPPING=1", got)
	}
}

func TestNotifier_WatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan struct{})
	go func() {
		NewNotifier(discard()).Watchdog(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watchdog should return when disabled")
	}
}

func TestNotifier_WatchdogPings(t *testing.T) {
	conn := listen(t)
	n := NewNotifier(discard())

	var healthy atomic.Bool
	healthy.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.runWatchdog(ctx, 10*time.Millisecond, healthy.Load)

	if got := receive(t, conn); !strings.HasPrefix(got, "WATCHDOG=1") {
		t.Errorf("got %q, want WATCHDOG=1", got)
	}
}
