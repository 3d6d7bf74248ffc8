package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/logic"
	"github.com/sweeney/telemetry-bridge/internal/metrics"
)

// ErrorSink receives readings that could not be stored.
type ErrorSink func(r logic.Reading, err error)

// WriterOptions configures a Writer.
type WriterOptions struct {
	QueueSize int
	Timeout   time.Duration
	Sink      ErrorSink
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Writer appends readings on a background goroutine so callers never wait
// on the database. Failures are reported to the error sink.
type Writer struct {
	store   Appender
	queue   chan logic.Reading
	timeout time.Duration
	sink    ErrorSink
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWriter starts a Writer over a.
func NewWriter(a Appender, opts WriterOptions) *Writer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = LogSink(opts.Logger)
	}

	w := &Writer{
		store:   a,
		queue:   make(chan logic.Reading, opts.QueueSize),
		timeout: opts.Timeout,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// LogSink returns an ErrorSink that logs the failure.
func LogSink(logger *zap.Logger) ErrorSink {
	return func(r logic.Reading, err error) {
		fields := []zap.Field{
			zap.Time("ts", r.Timestamp),
			zap.Int("led", int(r.Led)),
			zap.Error(err),
		}
		if r.Temperature != nil {
			fields = append(fields, zap.Float64("temperature", *r.Temperature))
		}
		logger.Error("failed to persist reading", fields...)
	}
}

// Persist queues r for appending. It never blocks: when the queue is full
// or the writer is closed the reading is reported to the sink as dropped.
func (w *Writer) Persist(r logic.Reading) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.drop(r)
		return
	}
	select {
	case w.queue <- r:
	default:
		w.drop(r)
	}
}

// Close stops accepting readings and waits until queued ones are written.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
}

func (w *Writer) drop(r logic.Reading) {
	w.metrics.Persist("dropped", 0)
	w.sink(r, ErrDropped)
}

func (w *Writer) run() {
	defer close(w.done)
	for r := range w.queue {
		w.write(r)
	}
}

func (w *Writer) write(r logic.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	start := time.Now()
	err := w.store.Append(ctx, r)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		w.metrics.Persist("error", elapsed)
		w.sink(r, err)
		return
	}
	w.metrics.Persist("success", elapsed)
}
