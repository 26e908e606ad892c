package ftp

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu         sync.Mutex
	queueSizes []int
	busyStates []bool
}

func (o *recordingObserver) OnQueueChange(size int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queueSizes = append(o.queueSizes, size)
}

func (o *recordingObserver) OnBusyChange(busy bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busyStates = append(o.busyStates, busy)
}

func TestEngineObserverSeesBusyTransitions(t *testing.T) {
	obs := &recordingObserver{}
	c, _ := dialTestServer(t, WithObserver(obs))

	if _, err := c.System(); err != nil {
		t.Fatalf("System: %v", err)
	}
	if _, err := c.Status(); err != nil {
		t.Fatalf("Status: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	var sawBusy, sawIdle bool
	for _, b := range obs.busyStates {
		if b {
			sawBusy = true
		} else {
			sawIdle = true
		}
	}
	if !sawBusy || !sawIdle {
		t.Fatalf("expected both busy and idle transitions, got %v", obs.busyStates)
	}
}

func TestEngineFinishedHistory(t *testing.T) {
	c, _ := dialTestServer(t, WithFinishedHistory(2))

	c.Noop()
	c.Noop()
	c.Noop()

	history := c.engine.History()
	if len(history) != 2 {
		t.Fatalf("got %d history entries, want 2 (capped)", len(history))
	}
	for _, req := range history {
		if !req.Finished() {
			t.Errorf("history entry %q not marked finished", req.Command)
		}
	}
}

func TestEnginePauseResume(t *testing.T) {
	c, _ := dialTestServer(t)

	c.engine.Pause()
	req := NewRequest("NOOP").ExpectSuccess(200)
	c.engine.Submit(req)

	// Give the dispatch loop a moment; it must not process while paused.
	if req.Finished() {
		t.Fatal("request should not finish while the engine is paused")
	}
	c.engine.Resume()
	if err := req.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestAbortForceBypassesQueue(t *testing.T) {
	c, _ := dialTestServer(t)
	if err := c.Abort(true); err != nil {
		t.Fatalf("Abort(true): %v", err)
	}
}

// TestAbortForceDuringActiveTransfer exercises the scenario spec.md §5
// calls out: a forced ABOR writes directly on the control socket from
// the caller's goroutine while the dispatch goroutine is still inside
// runDownload, concurrently reading the terminal response frame in its
// own goroutine. Connection.Write/ReadFrame guard their shared buffer
// with bufMu precisely so this doesn't race.
func TestAbortForceDuringActiveTransfer(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), 200000)
	c, srv := dialTestServer(t, WithDownloadLimit(20000))
	srv.WriteFile("/slow.bin", payload)

	done := make(chan error, 1)
	go func() {
		var buf bytes.Buffer
		done <- c.Retrieve("/slow.bin", &buf)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.Abort(true); err != nil {
		t.Fatalf("Abort(true): %v", err)
	}
	<-done
}
