package limiter

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestReaderUnlimitedPassthrough(t *testing.T) {
	lim := New(0, nil)
	r := NewReader(context.Background(), strings.NewReader("hello world"), lim)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestWriterUnlimitedPassthrough(t *testing.T) {
	var buf bytes.Buffer
	lim := New(0, nil)
	w := NewWriter(context.Background(), &buf, lim)
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "payload" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestLimiterProgressReportsFinalChunk(t *testing.T) {
	var finalSeen bool
	var total int64
	lim := New(0, func(p Progress) {
		total = p.Total
		if p.IsFinal {
			finalSeen = true
		}
	})
	r := NewReader(context.Background(), strings.NewReader("0123456789"), lim)
	if _, err := io.ReadAll(r); err != nil {
		t.Fatal(err)
	}
	if total != 10 {
		t.Fatalf("got total %d, want 10", total)
	}
	if !finalSeen {
		t.Fatal("expected a final progress event on EOF")
	}
}

func TestLimiterBudgetCapsChunkSize(t *testing.T) {
	lim := NewWithQuantum(1000, 50*time.Millisecond, nil)
	if lim.budget <= 0 {
		t.Fatal("expected a positive per-quantum budget")
	}
	src := bytes.Repeat([]byte("x"), lim.budget*3)
	r := NewReader(context.Background(), bytes.NewReader(src), lim)

	p := make([]byte, len(src))
	n, err := r.Read(p)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if n > lim.budget {
		t.Fatalf("single Read returned %d bytes, exceeding budget %d", n, lim.budget)
	}
}

func TestLimiterCancelStopsDelivery(t *testing.T) {
	lim := New(0, nil)
	lim.Cancel()
	r := NewReader(context.Background(), strings.NewReader("data"), lim)
	n, err := r.Read(make([]byte, 4))
	if n != 0 || err != io.EOF {
		t.Fatalf("expected immediate EOF after Cancel, got n=%d err=%v", n, err)
	}
}

func TestWriterFinishIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	var finalCount int
	lim := New(0, func(p Progress) {
		if p.IsFinal {
			finalCount++
		}
	})
	w := NewWriter(context.Background(), &buf, lim).(*Writer)
	w.Write([]byte("x"))
	w.Finish()
	w.Finish()
	if finalCount != 1 {
		t.Fatalf("expected exactly one final progress event, got %d", finalCount)
	}
}
