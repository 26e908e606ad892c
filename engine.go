package ftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ftpkit/client/internal/limiter"
)

// passiveVerbs and uploadVerbs classify a Request's base verb per
// spec.md §4.5 step 2.
var passiveVerbs = map[string]bool{
	"APPE": true, "LIST": true, "MLSD": true, "NLST": true,
	"REST": true, "RETR": true, "STOR": true, "STOU": true,
}

var uploadVerbs = map[string]bool{"APPE": true, "STOR": true}

// EngineObserver receives queue/busy telemetry. It generalizes the
// original source's `queue:add/remove`, `busy`, `free` events into two
// plain callbacks (SPEC_FULL.md's ambient-stack decision).
type EngineObserver interface {
	OnQueueChange(size int)
	OnBusyChange(busy bool)
}

// Engine is the Request Engine: a single serialized scheduler over one
// control connection (spec.md §4.5).
type Engine struct {
	conn   *Connection
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Request
	active  *Request
	busy    bool
	paused  bool
	stopped bool

	history     []*Request
	keepHistory bool
	historyCap  int

	caps map[string]bool

	compression      bool
	compressionLevel int

	limitUpload   int64
	limitDownload int64

	maxPassiveRetries int

	observer EngineObserver

	// activeLimiter is the Stream Limiter backing the transfer currently
	// in flight, if any, so a forced Abort (spec.md §5) can Cancel it
	// from the caller's goroutine without touching the dispatch loop.
	activeLimiter *limiter.Limiter
}

func (e *Engine) setActiveLimiter(lim *limiter.Limiter) {
	e.mu.Lock()
	e.activeLimiter = lim
	e.mu.Unlock()
}

func (e *Engine) clearActiveLimiter() {
	e.mu.Lock()
	e.activeLimiter = nil
	e.mu.Unlock()
}

// NewEngine builds an Engine bound to conn. caps should be the frozen
// capability set produced by the Session Controller's FEAT step.
func NewEngine(conn *Connection, caps map[string]bool) *Engine {
	e := &Engine{
		conn:              conn,
		logger:            conn.logger,
		caps:              caps,
		maxPassiveRetries: 3,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the dispatch loop goroutine.
func (e *Engine) Start() { go e.run() }

// Stop terminates the dispatch loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Pause/Resume gate dispatch without discarding the queue (spec.md §4.5
// "Pause/resume are idempotent flags gating dispatch").
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Submit appends req to the queue. If req.Prepend is set, it is
// inserted immediately after the currently active Request (never
// displacing it), per spec.md §4.5 "Queue model".
func (e *Engine) Submit(req *Request) {
	e.mu.Lock()
	if req.Prepend && len(e.queue) > 0 {
		e.queue = append([]*Request{req}, e.queue...)
	} else if req.Prepend {
		e.queue = append([]*Request{req}, e.queue...)
	} else {
		e.queue = append(e.queue, req)
	}
	size := len(e.queue)
	e.cond.Broadcast()
	e.mu.Unlock()
	if e.observer != nil {
		e.observer.OnQueueChange(size)
	}
}

// SubmitAndWait submits req and blocks until it finishes.
func (e *Engine) SubmitAndWait(req *Request) error {
	e.Submit(req)
	return req.Wait()
}

func (e *Engine) run() {
	for {
		e.mu.Lock()
		for !e.stopped && (e.busy || e.paused || len(e.queue) == 0) {
			e.cond.Wait()
		}
		if e.stopped {
			e.mu.Unlock()
			return
		}
		req := e.queue[0]
		e.queue = e.queue[1:]
		e.busy = true
		e.active = req
		size := len(e.queue)
		e.mu.Unlock()

		if e.observer != nil {
			e.observer.OnBusyChange(true)
			e.observer.OnQueueChange(size)
		}

		e.process(req)

		e.mu.Lock()
		e.busy = false
		e.active = nil
		if e.keepHistory {
			e.history = append(e.history, req)
			if e.historyCap > 0 && len(e.history) > e.historyCap {
				e.history = e.history[len(e.history)-e.historyCap:]
			}
		}
		e.mu.Unlock()

		if e.observer != nil {
			e.observer.OnBusyChange(false)
		}
		e.cond.Broadcast()
	}
}

// History returns a snapshot of finished Requests, if WithFinishedHistory
// was configured.
func (e *Engine) History() []*Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Request, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) process(req *Request) {
	req.markActive()
	if passiveVerbs[req.Verb] {
		e.runPassive(req)
		return
	}
	e.runSimple(req)
}

// runSimple handles non-passive Requests: write, await one frame, bind
// and classify it (spec.md §4.5 step 3).
func (e *Engine) runSimple(req *Request) {
	if err := e.conn.Write(req.Command); err != nil {
		req.markError(&StreamError{Stage: "control write", Err: err})
		return
	}
	frame, err := e.conn.ReadFrame()
	if err != nil {
		req.markError(&ProtocolError{Reason: err.Error()})
		return
	}
	req.bindResponse(frame)
	e.finishFromOutcome(req)
}

func (e *Engine) finishFromOutcome(req *Request) {
	success, failure := req.outcome()
	if failure {
		req.markError(&ServerRejected{Command: req.Verb, Code: req.Code, Message: req.Text})
		return
	}
	_ = success
	req.markFinished(false)
}

// sendControl writes a bare command and awaits its single response
// frame. Used for the internal MODE Z/MODE S/PASV exchanges the engine
// issues around a passive Request, outside the Request/queue model.
func (e *Engine) sendControl(cmd string) (*Frame, error) {
	if err := e.conn.Write(cmd); err != nil {
		return nil, err
	}
	return e.conn.ReadFrame()
}

// negotiatePASV sends PASV, retrying up to maxPassiveRetries times on a
// malformed or missing tuple, per spec.md §4.5(b).
func (e *Engine) negotiatePASV() (ip string, port int, err error) {
	var lastErr error
	attempts := e.maxPassiveRetries + 1
	for i := 0; i < attempts; i++ {
		frame, sendErr := e.sendControl("PASV")
		if sendErr != nil {
			lastErr = sendErr
			continue
		}
		if frame.Code != 227 {
			lastErr = fmt.Errorf("PASV returned %d %s", frame.Code, frame.Text)
			continue
		}
		ip, port, lastErr = parsePASV(frame.Text)
		if lastErr == nil {
			return ip, port, nil
		}
	}
	return "", 0, &PassiveUnavailable{Attempts: attempts, LastErr: lastErr}
}

// negotiateCompression attempts MODE Z for one passive Request, per
// spec.md §4.5 "Compression negotiation precedence": tried per-Request,
// never once-per-session, and failure silently downgrades to MODE S.
func (e *Engine) negotiateCompression() bool {
	if !e.compression || !e.caps["MODE Z"] {
		return false
	}
	frame, err := e.sendControl("MODE Z")
	if err != nil || frame.Code != 200 {
		if e.logger != nil {
			e.logger.Debug("ftp: MODE Z rejected, staying in stream mode")
		}
		_, _ = e.sendControl("MODE S")
		return false
	}
	return true
}

func (e *Engine) restoreStreamMode() {
	_, _ = e.sendControl("MODE S")
}

// runPassive implements the passive-transfer protocol of spec.md
// §4.5 "Passive transfer protocol".
func (e *Engine) runPassive(req *Request) {
	canCompress := e.negotiateCompression()

	ip, port, err := e.negotiatePASV()
	if err != nil {
		if canCompress {
			e.restoreStreamMode()
		}
		req.markError(err)
		return
	}

	dataConn, err := e.conn.OpenPassive(ip, port)
	if err != nil {
		if canCompress {
			e.restoreStreamMode()
		}
		req.markError(err)
		return
	}
	defer dataConn.Close()

	if uploadVerbs[req.Verb] {
		e.runUpload(req, dataConn, canCompress)
	} else {
		e.runDownload(req, dataConn, canCompress)
	}

	if canCompress {
		e.restoreStreamMode()
	}
}

type frameResult struct {
	frame *Frame
	err   error
}

// runDownload drives a LIST/MLSD/NLST/RETR: write the command, await
// the preliminary 1xx, then drain the data socket concurrently with
// awaiting the terminal control response, per spec.md §4.5(e).
func (e *Engine) runDownload(req *Request, dataConn io.ReadWriteCloser, canCompress bool) {
	if err := e.conn.Write(req.Command); err != nil {
		req.markError(&StreamError{Stage: "control write", Err: err})
		return
	}
	prelim, err := e.conn.ReadFrame()
	if err != nil {
		req.markError(&ProtocolError{Reason: err.Error()})
		return
	}
	if prelim.Code >= 400 {
		req.bindResponse(prelim)
		req.markError(&ServerRejected{Command: req.Verb, Code: prelim.Code, Message: prelim.Text})
		return
	}

	finalCh := make(chan frameResult, 1)
	go func() {
		f, ferr := e.conn.ReadFrame()
		finalCh <- frameResult{f, ferr}
	}()

	var src io.Reader = dataConn
	var inflate io.ReadCloser
	if canCompress {
		inflate = newInflateReader(dataConn)
		src = inflate
	}

	lim := limiter.New(e.limitDownload, func(p limiter.Progress) {
		req.addBytes(int64(p.Chunk))
	})
	e.setActiveLimiter(lim)
	defer e.clearActiveLimiter()
	limited := limiter.NewReader(context.Background(), src, lim)

	dst := req.Output
	if dst == nil {
		dst = io.Discard
	}
	_, copyErr := io.Copy(dst, limited)
	if inflate != nil {
		inflate.Close()
	}

	final := <-finalCh
	if copyErr != nil {
		req.markError(&StreamError{Stage: "data read", Err: copyErr})
		return
	}
	if final.err != nil {
		req.markError(&ProtocolError{Reason: final.err.Error()})
		return
	}
	req.bindResponse(final.frame)
	e.finishFromOutcome(req)
}

// runUpload drives an APPE/STOR: write the command, await the
// preliminary 1xx (which unpauses the source per spec.md §4.5
// "Upload"), stream source->limiter->[deflate]->socket, then await the
// terminal response.
func (e *Engine) runUpload(req *Request, dataConn io.ReadWriteCloser, canCompress bool) {
	src, closer, err := openInputSource(req.Input)
	if err != nil {
		req.markError(&InvalidInput{Reason: err.Error()})
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	if err := e.conn.Write(req.Command); err != nil {
		req.markError(&StreamError{Stage: "control write", Err: err})
		return
	}
	prelim, err := e.conn.ReadFrame()
	if err != nil {
		req.markError(&ProtocolError{Reason: err.Error()})
		return
	}
	if prelim.Code >= 400 {
		req.bindResponse(prelim)
		req.markError(&ServerRejected{Command: req.Verb, Code: prelim.Code, Message: prelim.Text})
		return
	}

	var target io.Writer = dataConn
	var deflate io.WriteCloser
	if canCompress {
		deflate, err = newDeflateWriter(dataConn, e.compressionLevel)
		if err != nil {
			req.markError(&StreamError{Stage: "compression setup", Err: err})
			return
		}
		target = deflate
	}

	lim := limiter.New(e.limitUpload, func(p limiter.Progress) {
		req.addBytes(int64(p.Chunk))
	})
	e.setActiveLimiter(lim)
	defer e.clearActiveLimiter()
	// lim is never nil (limiter.New always returns a *Limiter), so
	// NewWriter always wraps and this assertion always succeeds; keeping
	// the concrete type lets us call Finish() below to emit the final
	// progress event on the write side, same as runDownload gets for
	// free from Read returning io.EOF.
	limited := limiter.NewWriter(context.Background(), target, lim).(*limiter.Writer)

	_, copyErr := io.Copy(limited, src)
	limited.Finish()
	if deflate != nil {
		if closeErr := deflate.Close(); copyErr == nil {
			copyErr = closeErr
		}
	}

	final, finalErr := e.conn.ReadFrame()
	if copyErr != nil {
		req.markError(&StreamError{Stage: "data write", Err: copyErr})
		return
	}
	if finalErr != nil {
		req.markError(&ProtocolError{Reason: finalErr.Error()})
		return
	}
	req.bindResponse(final)
	e.finishFromOutcome(req)
}

// openInputSource resolves a Request's InputSource into a Reader, per
// spec.md §4.5 "Invalid input fails immediately."
func openInputSource(in *InputSource) (io.Reader, io.Closer, error) {
	if in == nil || in.empty() {
		return nil, nil, fmt.Errorf("no upload source provided")
	}
	if in.Reader != nil {
		return in.Reader, nil, nil
	}
	if in.Bytes != nil {
		return bytes.NewReader(in.Bytes), nil, nil
	}
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// Abort implements spec.md §4.5/§5's two ABOR modes. Forced injection
// writes ABOR directly on the control socket, bypassing the queue,
// relying on the active passive Request's in-flight ReadFrame goroutine
// to pick up the resulting response, and cancels the active transfer's
// Stream Limiter so a paced io.Copy loop still blocked on rate.Limiter.WaitN
// unblocks instead of riding out its remaining budget.
func (e *Engine) Abort(force bool) error {
	if !force {
		req := NewRequest("ABOR").ExpectSuccess(225, 226)
		return e.SubmitAndWait(req)
	}
	e.mu.Lock()
	lim := e.activeLimiter
	e.mu.Unlock()
	if lim != nil {
		lim.Cancel()
	}
	return e.conn.Write("ABOR")
}
