package pty

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	sharederrors "github.com/termpilot/termpilot/internal/shared/errors"
	"github.com/termpilot/termpilot/internal/types"
)

func spawnShell(t *testing.T) *Process {
	t.Helper()

	p, err := Spawn(SpawnOptions{
		Shell:      "/bin/sh",
		WorkingDir: t.TempDir(),
		Dimensions: types.Dimensions{Rows: 24, Cols: 80},
	})
	if err != nil {
		t.Skipf("cannot allocate pty: %v", err)
	}

	t.Cleanup(func() {
		_ = p.Terminate(time.Second)
	})

	return p
}

func TestSpawnMissingExecutable(t *testing.T) {
	_, err := Spawn(SpawnOptions{Shell: "/nonexistent/shell"})
	if err == nil {
		t.Fatal("expected spawn error for missing executable")
	}
	if !errors.Is(err, sharederrors.ErrSpawn) {
		t.Errorf("expected ErrSpawn, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	p := spawnShell(t)

	if err := p.Write([]byte("echo pty-roundtrip\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var out []byte
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if bytes.Contains(out, []byte("pty-roundtrip")) {
			return
		}
		if err != nil {
			break
		}
	}
	t.Fatalf("expected echoed output, got %q", out)
}

func TestResize(t *testing.T) {
	p := spawnShell(t)

	if err := p.Resize(types.Dimensions{Rows: 40, Cols: 120}); err != nil {
		t.Fatalf("resize failed: %v", err)
	}

	// stty reports the geometry the pty actually carries.
	if err := p.Write([]byte("stty size\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var out []byte
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if bytes.Contains(out, []byte("40 120")) {
			return
		}
		if err != nil {
			break
		}
	}
	t.Fatalf("expected stty to report 40 120, got %q", out)
}

func TestTerminateIdempotent(t *testing.T) {
	p := spawnShell(t)

	if err := p.Terminate(time.Second); err != nil {
		t.Fatalf("first terminate failed: %v", err)
	}

	if err := p.Terminate(time.Second); err != nil {
		t.Fatalf("second terminate should be a no-op, got %v", err)
	}

	if !p.Exited() {
		t.Error("process should be exited after terminate")
	}
}

func TestReadEOFAfterExit(t *testing.T) {
	p := spawnShell(t)

	if err := p.Write([]byte("exit\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		_, err := p.Read(buf)
		if err == io.EOF {
			return
		}
		if err != nil {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	}
	t.Fatal("never observed EOF after shell exit")
}
