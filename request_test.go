package ftp

import (
	"testing"
	"time"
)

func TestRequestLifecycle(t *testing.T) {
	r := NewRequest("NOOP").ExpectSuccess(200)
	if !r.Pending() {
		t.Fatal("new Request should be pending")
	}
	r.markActive()
	if !r.Active() || r.Pending() {
		t.Fatal("expected active=true, pending=false after markActive")
	}
	r.bindResponse(&Frame{Code: 200, Text: "ok"})
	success, failure := r.outcome()
	if !success || failure {
		t.Fatalf("expected success outcome, got success=%v failure=%v", success, failure)
	}
	r.markFinished(false)
	if !r.Finished() || r.Active() {
		t.Fatal("expected finished=true, active=false after markFinished")
	}
	if err := r.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestErrorCodes(t *testing.T) {
	r := NewRequest("STOR x").ExpectSuccess(226).ExpectError(553, 451)
	r.bindResponse(&Frame{Code: 553, Text: "denied"})
	_, failure := r.outcome()
	if !failure {
		t.Fatal("expected 553 to be classified as failure")
	}
}

func TestRequestDoubleFinishIsNoOp(t *testing.T) {
	r := NewRequest("NOOP")
	r.markActive()
	r.markFinished(false)
	end := r.Duration()
	r.markFinished(false)
	if r.Duration() != end {
		t.Fatal("second markFinished should not move endTime")
	}
}

func TestRequestMarkErrorImpliesFinished(t *testing.T) {
	r := NewRequest("RETR x")
	r.markActive()
	r.markError(&StreamError{Stage: "data read", Err: errTest("boom")})
	if !r.Finished() || !r.Errored() {
		t.Fatal("markError must imply finished=true")
	}
	if err := r.Wait(); err == nil {
		t.Fatal("expected Wait to return the error")
	}
}

func TestRequestVerbDerivedFromCommand(t *testing.T) {
	r := NewRequest("RETR /pub/file.bin")
	if r.Verb != "RETR" {
		t.Fatalf("got verb %q", r.Verb)
	}
}

func TestRequestAverageSpeed(t *testing.T) {
	r := NewRequest("RETR x")
	r.startTime = time.Now().Add(-time.Second)
	r.markActive()
	r.addBytes(1000)
	r.markFinished(false)
	if r.Size() != 1000 {
		t.Fatalf("got size %d, want 1000", r.Size())
	}
	if r.AverageSpeed() <= 0 {
		t.Fatal("expected a positive average speed for a data-bearing Request")
	}
}

// TestRequestAverageSpeedControlOnlyFallsBack verifies the spec.md §4.3
// fallback: control-only Requests (no data connection, bytesTransferred
// stays 0) derive size from the response text length instead, so
// AverageSpeed isn't silently zero for the entire non-data-bearing
// command class.
func TestRequestAverageSpeedControlOnlyFallsBack(t *testing.T) {
	r := NewRequest("SYST").ExpectSuccess(215)
	r.startTime = time.Now().Add(-time.Second)
	r.markActive()
	r.bindResponse(&Frame{Code: 215, Text: "UNIX Type: L8", Lines: []string{"215 UNIX Type: L8"}})
	r.markFinished(false)
	if r.Size() == 0 {
		t.Fatal("expected a nonzero size derived from response text length")
	}
	if r.AverageSpeed() <= 0 {
		t.Fatal("expected a positive average speed via the text-length fallback")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
