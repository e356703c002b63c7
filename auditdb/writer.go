package auditdb

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
	"github.com/githubnext/gh-aw-firewall-sub005/logging"
)

// Writer batches entries into the store from a background goroutine.
// Enqueue is a non-blocking channel send that drops on overflow: losing an
// audit row is acceptable, stalling the live log stream is not.
type Writer struct {
	store    *Store
	runID    string
	logger   logging.Logger
	queue    chan *accesslog.Entry
	batch    int
	interval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// WriterConfig configures the async writer.
type WriterConfig struct {
	Store         *Store
	RunID         string
	Logger        logging.Logger
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
}

// NewWriter creates a writer for one run.
func NewWriter(cfg WriterConfig) *Writer {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	batch := cfg.FlushBatch
	if batch <= 0 {
		batch = 256
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Writer{
		store:    cfg.Store,
		runID:    cfg.RunID,
		logger:   cfg.Logger,
		queue:    make(chan *accesslog.Entry, queueSize),
		batch:    batch,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.flushLoop()
}

// Stop signals the flush loop, drains remaining entries, and returns.
func (w *Writer) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// Enqueue queues an entry for persistence. Non-blocking; drops on overflow.
func (w *Writer) Enqueue(e *accesslog.Entry) {
	select {
	case w.queue <- e:
	default:
		w.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded because the queue was
// full.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	batch := make([]*accesslog.Entry, 0, w.batch)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.batch {
				w.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}

		case <-w.stopCh:
			w.drainAndFlush(batch)
			return
		}
	}
}

func (w *Writer) drainAndFlush(batch []*accesslog.Entry) {
	for {
		select {
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.batch {
				w.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *Writer) flush(entries []*accesslog.Entry) {
	n, err := w.store.InsertBatch(w.runID, entries)
	if err != nil {
		w.logger.Warn("audit flush failed", map[string]any{"entries": len(entries), "error": err.Error()})
		return
	}
	w.logger.Debug("audit flush", map[string]any{"entries": n})
}
