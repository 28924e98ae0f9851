package detect

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"
)

// feedShellEcho simulates what a pty stream looks like after submitting a
// command: the echoed input lines, the command's own output, then the
// sentinel line printed by the injected echo.
func feedShellEcho(d *Detector, wrapped []byte, token, output string, exitCode int) {
	for _, line := range strings.Split(strings.TrimRight(string(wrapped), "\n"), "\n") {
		d.Feed([]byte(line + "\r\n"))
	}
	if output != "" {
		d.Feed([]byte(output))
	}
	d.Feed([]byte(fmt.Sprintf("__CMD_DONE_%s__%d\r\n", token, exitCode)))
}

func tokenOf(wrapped []byte) string {
	m := regexp.MustCompile(`__CMD_DONE_([0-9a-f]{32})__`).FindSubmatch(wrapped)
	if m == nil {
		return ""
	}
	return string(m[1])
}

func TestWrapAppendsOnly(t *testing.T) {
	d := New(0)
	wrapped := d.Begin("cd /tmp && export FOO=bar")

	s := string(wrapped)
	if !strings.HasPrefix(s, "cd /tmp && export FOO=bar\n") {
		t.Fatalf("user command must pass through unmodified, got %q", s)
	}
	if !strings.Contains(s, `__$?"`) {
		t.Errorf("wrapper should request exit status, got %q", s)
	}
	if tokenOf(wrapped) == "" {
		t.Errorf("wrapper should carry a 32-hex-char token, got %q", s)
	}
}

func TestTokenUniquePerCommand(t *testing.T) {
	d := New(0)

	t1 := tokenOf(d.Begin("true"))
	d.End()
	t2 := tokenOf(d.Begin("true"))
	d.End()

	if t1 == t2 {
		t.Error("sentinel tokens must differ per command")
	}
}

func TestDetectCompletion(t *testing.T) {
	d := New(0)
	wrapped := d.Begin("echo hello")
	token := tokenOf(wrapped)

	done := make(chan Result, 1)
	go func() {
		done <- d.Wait(context.Background(), 5*time.Second)
	}()

	feedShellEcho(d, wrapped, token, "hello\r\n", 0)

	res := <-done
	d.End()

	if res.TimedOut {
		t.Fatal("should not time out")
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", res.ExitCode)
	}
	if !strings.Contains(string(res.Output), "hello") {
		t.Errorf("output should contain command output, got %q", res.Output)
	}
	if strings.Contains(string(res.Output), "echo hello") {
		t.Errorf("echoed command line should be stripped, got %q", res.Output)
	}
	if strings.Contains(string(res.Output), token) {
		t.Errorf("sentinel must never leak into output, got %q", res.Output)
	}
}

func TestNonZeroExitCode(t *testing.T) {
	d := New(0)
	wrapped := d.Begin("false")
	token := tokenOf(wrapped)

	done := make(chan Result, 1)
	go func() {
		done <- d.Wait(context.Background(), 5*time.Second)
	}()

	feedShellEcho(d, wrapped, token, "", 1)

	res := <-done
	d.End()

	if res.ExitCode == nil || *res.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %v", res.ExitCode)
	}
}

func TestEchoedSentinelNotMatched(t *testing.T) {
	d := New(0)
	wrapped := d.Begin("sleep 1")
	token := tokenOf(wrapped)

	// Only the echoed injection (with literal $?) has arrived; the real
	// sentinel has not.
	d.Feed([]byte(fmt.Sprintf("sleep 1\r\necho \"__CMD_DONE_%s__$?\"\r\n", token)))

	res := d.Wait(context.Background(), 100*time.Millisecond)
	if !res.TimedOut {
		t.Fatal("echo of the injected line must not count as completion")
	}
	d.End()
}

func TestTimeoutReturnsPartialOutput(t *testing.T) {
	d := New(0)
	wrapped := d.Begin("sleep 60")
	_ = wrapped

	d.Feed([]byte("partial output\r\n"))

	start := time.Now()
	res := d.Wait(context.Background(), 50*time.Millisecond)
	if time.Since(start) > time.Second {
		t.Error("timeout should fire promptly")
	}

	if !res.TimedOut || !res.Truncated {
		t.Errorf("expected timed-out truncated result, got %+v", res)
	}
	if res.ExitCode != nil {
		t.Errorf("exit code must be absent on timeout, got %d", *res.ExitCode)
	}
	if !strings.Contains(string(res.Output), "partial output") {
		t.Errorf("partial output should be returned, got %q", res.Output)
	}
	d.End()
}

func TestCaptureCapSetsTruncated(t *testing.T) {
	d := New(64)
	wrapped := d.Begin("yes")
	token := tokenOf(wrapped)

	done := make(chan Result, 1)
	go func() {
		done <- d.Wait(context.Background(), 5*time.Second)
	}()

	d.Feed([]byte(strings.Repeat("y\n", 300)))
	d.Feed([]byte(fmt.Sprintf("__CMD_DONE_%s__0\r\n", token)))

	res := <-done
	d.End()

	if !res.Truncated {
		t.Error("output past the capture cap must mark the result truncated")
	}
	if len(res.Output) > 64 {
		t.Errorf("output must respect the cap, got %d bytes", len(res.Output))
	}
}

func TestBinaryOutputPassthrough(t *testing.T) {
	d := New(0)
	wrapped := d.Begin("cat blob")
	token := tokenOf(wrapped)

	done := make(chan Result, 1)
	go func() {
		done <- d.Wait(context.Background(), 5*time.Second)
	}()

	blob := []byte{0x00, 0xff, 0x1b, 0x7f, 0xfe, '\n'}
	d.Feed([]byte("cat blob\r\n"))
	d.Feed(blob)
	d.Feed([]byte(fmt.Sprintf("__CMD_DONE_%s__0\r\n", token)))

	res := <-done
	d.End()

	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("binary output should not break detection, got %+v", res)
	}
	for _, b := range []byte{0x00, 0xff, 0xfe} {
		if !bytes.Contains(res.Output, []byte{b}) {
			t.Errorf("binary byte %#x missing from output", b)
		}
	}
}

func TestFeedIgnoredWhenIdle(t *testing.T) {
	d := New(0)

	d.Feed([]byte("stray prompt output\r\n"))

	wrapped := d.Begin("true")
	token := tokenOf(wrapped)

	done := make(chan Result, 1)
	go func() {
		done <- d.Wait(context.Background(), 5*time.Second)
	}()

	feedShellEcho(d, wrapped, token, "", 0)

	res := <-done
	d.End()

	if strings.Contains(string(res.Output), "stray") {
		t.Errorf("bytes fed while idle must not appear in capture, got %q", res.Output)
	}
}
