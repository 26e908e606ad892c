package ftp

import (
	"bytes"
	"testing"
	"time"

	"github.com/ftpkit/client/internal/ftptest"
)

func dialTestServer(t *testing.T, options ...Option) (*Client, *ftptest.Server) {
	t.Helper()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatalf("starting test server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	opts := append([]Option{WithCredentials("anonymous", "a@b")}, options...)
	c, err := Dial(srv.Addr(), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Quit() })
	return c, srv
}

func TestConnectListQuit(t *testing.T) {
	c, srv := dialTestServer(t)

	srv.WriteFile("/pub/readme.txt", []byte("hello"))

	entries, err := c.List("/pub", false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.Name == "readme.txt" {
			found = true
			if e.Size != 5 {
				t.Errorf("got size %d, want 5", e.Size)
			}
		}
	}
	if !found {
		t.Fatal("expected readme.txt in listing")
	}

	if !c.HasFeature("MLSD") {
		t.Fatal("expected MLSD capability from FEAT")
	}
}

func TestStoreSizeAppend(t *testing.T) {
	c, srv := dialTestServer(t)
	_ = srv

	payload := bytes.Repeat([]byte("a"), 1024)
	if err := c.Store("/data/file.bin", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	size, err := c.Size("/data/file.bin")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1024 {
		t.Fatalf("got size %d, want 1024", size)
	}

	if err := c.Append("/data/file.bin", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	size, err = c.Size("/data/file.bin")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 2048 {
		t.Fatalf("got size %d, want 2048", size)
	}
}

func TestRetrieveRoundTrip(t *testing.T) {
	c, srv := dialTestServer(t)
	srv.WriteFile("/report.csv", []byte("a,b,c\n1,2,3\n"))

	var buf bytes.Buffer
	if err := c.Retrieve("/report.csv", &buf); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if buf.String() != "a,b,c\n1,2,3\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestRenameAndExists(t *testing.T) {
	c, srv := dialTestServer(t)
	srv.WriteFile("/old.txt", []byte("x"))

	if err := c.Rename("/old.txt", "/new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ok, _ := c.FileExists("/old.txt"); ok {
		t.Fatal("expected /old.txt to no longer exist")
	}
	if ok, err := c.FileExists("/new.txt"); err != nil || !ok {
		t.Fatalf("expected /new.txt to exist, got ok=%v err=%v", ok, err)
	}
}

func TestListAllIncludesHiddenFiles(t *testing.T) {
	c, srv := dialTestServer(t)
	srv.WriteFile("/pub/.hidden", []byte("x"))
	srv.WriteFile("/pub/visible.txt", []byte("y"))

	entries, err := c.List("/pub", true)
	if err != nil {
		t.Fatalf("List(all=true): %v", err)
	}
	var sawHidden bool
	for _, e := range entries {
		if e.Name == ".hidden" {
			sawHidden = true
			if !e.Hidden {
				t.Errorf("expected .hidden entry to be marked Hidden")
			}
		}
	}
	if !sawHidden {
		t.Fatal("expected .hidden in the all=true listing")
	}
}

func TestMakeAndRemoveDir(t *testing.T) {
	c, _ := dialTestServer(t)

	if err := c.MakeDir("/archive", false); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if err := c.RemoveDir("/archive", false); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
}

func TestThrottledDownload(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 20000)
	c, srv := dialTestServer(t, WithDownloadLimit(10000))
	srv.WriteFile("/big.bin", payload)

	start := time.Now()
	var buf bytes.Buffer
	if err := c.Retrieve("/big.bin", &buf); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	elapsed := time.Since(start)

	if buf.Len() != len(payload) {
		t.Fatalf("got %d bytes, want %d", buf.Len(), len(payload))
	}
	// 20000 bytes at 10000 B/s should take at least ~1s; allow generous slack
	// since CI/test machines vary and the limiter budgets per-quantum, not
	// byte-for-byte.
	if elapsed < 500*time.Millisecond {
		t.Fatalf("download completed in %v, expected throttling to slow it down", elapsed)
	}
}

func TestMLStatAndMLList(t *testing.T) {
	c, srv := dialTestServer(t)
	srv.WriteFile("/data/a.txt", []byte("12345"))

	entry, err := c.MLStat("/data/a.txt")
	if err != nil {
		t.Fatalf("MLStat: %v", err)
	}
	if entry.Size != 5 {
		t.Fatalf("got size %d", entry.Size)
	}

	entries, err := c.MLList("/data")
	if err != nil {
		t.Fatalf("MLList: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one MLSD entry")
	}
	_ = srv
}

func TestUnsupportedFeatureGating(t *testing.T) {
	// MLStat and MLList are gated behind the FEAT-advertised MLST/MLSD
	// capabilities; the ftptest server always advertises them, so this
	// exercises the happy path. The gating itself is covered at the
	// session-controller level in session_test.go.
	c, _ := dialTestServer(t)
	if !c.HasFeature("MFMT") {
		t.Fatal("expected MFMT capability from FEAT")
	}
}
