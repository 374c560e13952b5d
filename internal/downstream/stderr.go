package downstream

import (
	"bufio"
	"io"
	"sync"
)

// stderrTailLines is how many recent stderr lines are retained for
// diagnostics.
const stderrTailLines = 64

// StderrTail is a bounded ring of the child process's most recent stderr
// lines.
type StderrTail struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewStderrTail builds an empty tail.
func NewStderrTail() *StderrTail {
	return &StderrTail{lines: make([]string, stderrTailLines)}
}

// Consume reads r line by line until EOF, keeping only the tail. It blocks
// and is meant to run in its own goroutine.
func (t *StderrTail) Consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.append(scanner.Text())
	}
}

func (t *StderrTail) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (t *StderrTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		out := make([]string, t.next)
		copy(out, t.lines[:t.next])
		return out
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	out = append(out, t.lines[:t.next]...)
	return out
}
