package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

type chunk struct {
	data []byte
	err  error
}

// expecter reads a shell's output stream in the background and hands it out
// in pieces delimited by a marker.
type expecter struct {
	chunks   chan chunk
	done     chan struct{}
	stopOnce sync.Once
	pending  []byte
	err      error
}

func newExpecter(r io.Reader) *expecter {
	e := &expecter{
		chunks: make(chan chunk),
		done:   make(chan struct{}),
	}
	go e.pump(r)
	return e
}

func (e *expecter) pump(r io.Reader) {
	for {
		buf := make([]byte, 32*1024)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case e.chunks <- chunk{data: buf[:n]}:
			case <-e.done:
				return
			}
		}
		if err != nil {
			select {
			case e.chunks <- chunk{err: err}:
			case <-e.done:
			}
			return
		}
	}
}

// readUntil returns everything before the earliest occurrence of any of
// markers and consumes that marker. It fails with ErrTimeout when ctx expires
// first.
func (e *expecter) readUntil(ctx context.Context, markers ...string) (string, error) {
	for {
		if i, n := e.find(markers); i >= 0 {
			out := string(e.pending[:i])
			e.pending = e.pending[i+n:]
			return out, nil
		}
		if e.err != nil {
			return "", e.err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w waiting for prompt", ErrTimeout)
			}
			return "", ctx.Err()
		case c := <-e.chunks:
			if c.err != nil {
				if errors.Is(c.err, io.EOF) {
					e.err = fmt.Errorf("%w: shell exited", ErrClosed)
				} else {
					e.err = fmt.Errorf("%w: %v", ErrClosed, c.err)
				}
				continue
			}
			e.pending = append(e.pending, c.data...)
		}
	}
}

// find returns the position and length of the earliest marker in pending,
// or -1.
func (e *expecter) find(markers []string) (int, int) {
	pos, length := -1, 0
	for _, m := range markers {
		if i := bytes.Index(e.pending, []byte(m)); i >= 0 && (pos < 0 || i < pos) {
			pos, length = i, len(m)
		}
	}
	return pos, length
}

// stop releases the reader goroutine once the underlying stream is closed.
func (e *expecter) stop() {
	e.stopOnce.Do(func() { close(e.done) })
}
