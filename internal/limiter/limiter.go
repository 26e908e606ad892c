// Package limiter implements the Stream Limiter transform described in
// spec.md §4.2: a byte-stream pacing adapter with a progress callback
// and a cancellable pending delay.
package limiter

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Quantum is the default pacing window (spec.md §4.2's "D").
const Quantum = 100 * time.Millisecond

// Progress is delivered after every chunk the Limiter lets through.
type Progress struct {
	Total   int64 // cumulative bytes transferred
	Chunk   int   // size of the chunk just pushed
	IsFinal bool  // true once the limiter has completed
}

// Limiter paces a byte stream to a configured rate using a token-bucket
// (golang.org/x/time/rate) sized to one quantum's budget, matching
// spec.md §4.2's B = rate*D/1000 budget rule.
type Limiter struct {
	rate    *rate.Limiter // nil means unlimited (pass-through)
	budget  int           // B, bytes per quantum
	quantum time.Duration

	mu        sync.Mutex
	total     int64
	completed bool
	cancelled bool

	onProgress func(Progress)
}

// New builds a Limiter for bytesPerSecond at the default quantum. A
// bytesPerSecond <= 0 disables limiting (pass-through with progress
// events still emitted).
func New(bytesPerSecond int64, onProgress func(Progress)) *Limiter {
	return NewWithQuantum(bytesPerSecond, Quantum, onProgress)
}

// NewWithQuantum is like New but allows overriding the quantum duration.
func NewWithQuantum(bytesPerSecond int64, quantum time.Duration, onProgress func(Progress)) *Limiter {
	l := &Limiter{quantum: quantum, onProgress: onProgress}
	if bytesPerSecond > 0 {
		budget := int(float64(bytesPerSecond) * quantum.Seconds())
		if budget < 1 {
			budget = 1
		}
		l.budget = budget
		l.rate = rate.NewLimiter(rate.Limit(bytesPerSecond), budget)
	}
	return l
}

// Cancel marks the limiter completed without pushing further data. Used
// when the owning Request is being aborted (spec.md §4.2 "Cancellation").
func (l *Limiter) Cancel() {
	l.mu.Lock()
	l.cancelled = true
	l.completed = true
	l.mu.Unlock()
}

func (l *Limiter) isDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.completed
}

// finish marks completion and, unless cancelled mid-flight, emits the
// final progress event.
func (l *Limiter) finish() {
	l.mu.Lock()
	already := l.completed
	l.completed = true
	total := l.total
	l.mu.Unlock()
	if !already && l.onProgress != nil {
		l.onProgress(Progress{Total: total, Chunk: 0, IsFinal: true})
	}
}

func (l *Limiter) record(n int) {
	l.mu.Lock()
	l.total += int64(n)
	total := l.total
	l.mu.Unlock()
	if l.onProgress != nil {
		l.onProgress(Progress{Total: total, Chunk: n})
	}
}

// wait blocks until n bytes may be pushed, honoring the limiter's
// quantum budget, or returns immediately if limiting is disabled.
func (l *Limiter) wait(ctx context.Context, n int) error {
	if l.rate == nil || n <= 0 {
		return nil
	}
	return l.rate.WaitN(ctx, n)
}

// Reader wraps r, pacing Read calls to the configured rate. Each Read
// returns at most the per-quantum budget B when limiting is active, so
// the caller naturally recurses across quanta via repeated Read calls —
// the transform's "schedule a delayed continuation" rule from spec.md
// §4.2 falls out of io.Reader's own chunked-read contract.
type Reader struct {
	r   io.Reader
	lim *Limiter
	ctx context.Context
}

// NewReader returns r wrapped with lim's pacing. If lim is nil, r is
// returned unchanged.
func NewReader(ctx context.Context, r io.Reader, lim *Limiter) io.Reader {
	if lim == nil {
		return r
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Reader{r: r, lim: lim, ctx: ctx}
}

func (rd *Reader) Read(p []byte) (int, error) {
	if rd.lim.isDone() {
		return 0, io.EOF
	}
	if rd.lim.budget > 0 && len(p) > rd.lim.budget {
		p = p[:rd.lim.budget]
	}
	n, err := rd.r.Read(p)
	if n > 0 {
		if waitErr := rd.lim.wait(rd.ctx, n); waitErr != nil {
			return n, waitErr
		}
		rd.lim.record(n)
	}
	if err != nil {
		rd.lim.finish()
	}
	return n, err
}

// Writer wraps w, pacing Write calls to the configured rate by
// splitting each call into budget-sized pushes.
type Writer struct {
	w   io.Writer
	lim *Limiter
	ctx context.Context
}

// NewWriter returns w wrapped with lim's pacing. If lim is nil, w is
// returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, lim *Limiter) io.Writer {
	if lim == nil {
		return w
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Writer{w: w, lim: lim, ctx: ctx}
}

func (wr *Writer) Write(p []byte) (int, error) {
	if wr.lim.isDone() {
		return 0, io.ErrClosedPipe
	}
	written := 0
	for written < len(p) {
		chunk := p[written:]
		if wr.lim.budget > 0 && len(chunk) > wr.lim.budget {
			chunk = chunk[:wr.lim.budget]
		}
		if err := wr.lim.wait(wr.ctx, len(chunk)); err != nil {
			return written, err
		}
		n, err := wr.w.Write(chunk)
		written += n
		if n > 0 {
			wr.lim.record(n)
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Finish marks the writer's limiter completed once the caller is done
// writing (there is no EOF signal on the write side).
func (wr *Writer) Finish() { wr.lim.finish() }
