// Package detect turns an unstructured shell byte stream into discrete
// command results.
//
// An interactive shell echoes input, intermixes prompts, and gives no
// machine-readable completion signal. The detector wraps every submitted
// command with an echo of a per-command random sentinel token concatenated
// with $?, then scans the raw byte stream for that exact token followed by
// the exit status digits. Scanning operates on bytes, never decoded text,
// so binary output passes through unharmed.
package detect

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sentinelPrefix = "__CMD_DONE_"

// scanWindow is how many trailing stream bytes stay available for sentinel
// matching after the capture cap is exceeded. The queue goroutine rescans on
// every feed, so the sentinel is long gone from the window only if scanning
// lags by more than this many bytes.
const scanWindow = 64 * 1024

// Result is the outcome of waiting for one command's sentinel.
type Result struct {
	Output    []byte
	ExitCode  *int // nil when detection timed out
	Truncated bool
	TimedOut  bool
}

// Detector maintains the capture state shared between a session's reader
// goroutine (which appends) and its queue loop (which scans). This is the
// only state the two goroutines share.
type Detector struct {
	captureLimit int

	mu      sync.Mutex
	active  bool
	command string
	token   string

	// head holds the first captureLimit bytes of the command's stream and
	// becomes the result output. window holds the most recent stream
	// bytes, at absolute offset winStart, and is what sentinel matching
	// runs against.
	head     []byte
	window   []byte
	winStart int
	total    int

	// notify carries at most one pending wakeup for the scanner.
	notify chan struct{}
}

// New creates a detector whose result output holds at most captureLimit
// bytes per command. Bytes past the cap are dropped from the result (never
// from the live broadcast stream) and the result is marked truncated.
func New(captureLimit int) *Detector {
	if captureLimit <= 0 {
		captureLimit = 1 << 20
	}
	return &Detector{
		captureLimit: captureLimit,
		notify:       make(chan struct{}, 1),
	}
}

// NewToken returns a random sentinel token, collision-resistant within a
// session's lifetime.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Begin arms the detector for one command and returns the bytes to write to
// the pty: the user's command line unmodified, then a second line that makes
// the shell print the sentinel with its exit status. Commands that mutate
// shell state (cd, exports) pass through untouched.
func (d *Detector) Begin(command string) []byte {
	token := NewToken()

	d.mu.Lock()
	d.active = true
	d.command = command
	d.token = token
	d.head = d.head[:0]
	d.window = d.window[:0]
	d.winStart = 0
	d.total = 0
	d.mu.Unlock()

	// Drain any stale wakeup from a previous command.
	select {
	case <-d.notify:
	default:
	}

	var w bytes.Buffer
	w.WriteString(command)
	w.WriteByte('\n')
	fmt.Fprintf(&w, "echo \"%s%s__$?\"\n", sentinelPrefix, token)
	return w.Bytes()
}

// Feed appends raw pty bytes to the capture state. Called by the session's
// reader goroutine for every chunk, regardless of whether a command is in
// flight.
func (d *Detector) Feed(p []byte) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}

	if room := d.captureLimit - len(d.head); room > 0 {
		if len(p) <= room {
			d.head = append(d.head, p...)
		} else {
			d.head = append(d.head, p[:room]...)
		}
	}

	d.window = append(d.window, p...)
	d.total += len(p)
	if excess := len(d.window) - scanWindow; excess > 0 {
		d.window = d.window[excess:]
		d.winStart += excess
	}
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until the sentinel for the current command appears, the
// timeout elapses, or ctx is canceled. On timeout it returns the partial
// output with a nil exit code; the shell is left running.
func (d *Detector) Wait(ctx context.Context, timeout time.Duration) Result {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if res, ok := d.scan(); ok {
			return res
		}

		select {
		case <-d.notify:
		case <-timer.C:
			return d.abandon()
		case <-ctx.Done():
			return d.abandon()
		}
	}
}

// End disarms the detector after a command resolves. Output arriving while
// no command is armed is broadcast but never captured.
func (d *Detector) End() {
	d.mu.Lock()
	d.active = false
	d.head = d.head[:0]
	d.window = d.window[:0]
	d.mu.Unlock()
}

// scan looks for the sentinel pattern token__<digits> in the window.
func (d *Detector) scan() (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	marker := []byte(sentinelPrefix + d.token + "__")
	idx := indexSentinel(d.window, marker)
	if idx < 0 {
		return Result{}, false
	}

	digitsStart := idx + len(marker)
	digitsEnd := digitsStart
	for digitsEnd < len(d.window) && isDigit(d.window[digitsEnd]) {
		digitsEnd++
	}
	// Require a terminator after the digits so a multi-digit status still
	// in flight is never matched short.
	if digitsEnd == len(d.window) {
		return Result{}, false
	}

	code, err := strconv.Atoi(string(d.window[digitsStart:digitsEnd]))
	if err != nil {
		return Result{}, false
	}

	// Absolute stream position of the sentinel delimits the output.
	end := d.winStart + idx
	truncated := false
	if end > len(d.head) {
		end = len(d.head)
		truncated = true
	}
	output := cleanOutput(d.head[:end], d.command, d.token)

	return Result{
		Output:    output,
		ExitCode:  &code,
		Truncated: truncated,
	}, true
}

// abandon returns whatever was captured so far as a timed-out result.
func (d *Detector) abandon() Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Result{
		Output:    cleanOutput(d.head, d.command, d.token),
		Truncated: true,
		TimedOut:  true,
		// exit code unknowable without the sentinel
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// indexSentinel finds a sentinel marker that is followed by at least one
// digit, skipping the shell's echo of the injected line (where the marker
// is followed by the literal "$?").
func indexSentinel(buf, marker []byte) int {
	off := 0
	for {
		i := bytes.Index(buf[off:], marker)
		if i < 0 {
			return -1
		}
		pos := off + i
		after := pos + len(marker)
		if after < len(buf) && isDigit(buf[after]) {
			return pos
		}
		off = after
	}
}

// cleanOutput strips the shell's echo of the submitted command line and any
// line containing the sentinel token (the echoed injection) from the
// captured bytes.
func cleanOutput(buf []byte, command, token string) []byte {
	if len(buf) == 0 {
		return nil
	}

	tokenBytes := []byte(token)
	cmdBytes := []byte(command)
	cmdStripped := false

	var out []byte
	for _, line := range bytes.SplitAfter(buf, []byte{'\n'}) {
		trimmed := bytes.TrimRight(line, "\r\n")
		if bytes.Contains(trimmed, tokenBytes) {
			continue
		}
		// Known-length match against the echoed command. The shell may
		// wrap the echo in \r or escape sequences, so containment is
		// checked rather than equality.
		if !cmdStripped && len(cmdBytes) > 0 && bytes.Contains(trimmed, cmdBytes) {
			cmdStripped = true
			continue
		}
		out = append(out, line...)
	}

	return bytes.TrimRight(out, "\r\n")
}
