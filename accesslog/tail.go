package accesslog

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/githubnext/gh-aw-firewall-sub005/logging"
)

// Tailer follows a live access log by polling for appended bytes, emitting
// entries as the proxy writes them. Rotation and truncation reopen the
// file; a log that does not exist yet is waited for.
type Tailer struct {
	path     string
	logger   logging.Logger
	interval time.Duration
}

// NewTailer creates a Tailer polling path every 500ms.
func NewTailer(path string, logger logging.Logger) *Tailer {
	return &Tailer{
		path:     path,
		logger:   logger,
		interval: 500 * time.Millisecond,
	}
}

// Tail blocks until ctx is cancelled, sending parsed entries to out. Only
// complete lines are emitted; a partially written line stays pending until
// its newline arrives.
func (t *Tailer) Tail(ctx context.Context, out chan<- *Entry) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var f *os.File
	var offset int64
	var pending []byte
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if f == nil {
			ff, err := os.Open(t.path)
			if err != nil {
				continue
			}
			f = ff
			offset = 0
			pending = nil
			t.logger.Debug("tailing access log", map[string]any{"path": t.path})
		}

		info, err := f.Stat()
		if err != nil {
			f.Close()
			f = nil
			continue
		}
		size := info.Size()
		if size < offset {
			// Truncated or rotated underneath us.
			f.Close()
			f = nil
			continue
		}
		if size == offset {
			continue
		}

		chunk := make([]byte, size-offset)
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			t.logger.Warn("access log read failed", map[string]any{"error": err.Error()})
			f.Close()
			f = nil
			continue
		}
		offset = size
		pending = append(pending, chunk...)

		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := string(pending[:i])
			pending = pending[i+1:]
			e, ok := ParseLine(line)
			if !ok {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
