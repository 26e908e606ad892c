package ftp

import "testing"

func TestParseResponseSingleLine(t *testing.T) {
	frame, rest, ok := ParseResponse([]byte("220 welcome\r\n"))
	if !ok {
		t.Fatal("expected a parsed frame")
	}
	if frame.Code != 220 || frame.Text != "welcome" {
		t.Fatalf("got code=%d text=%q", frame.Code, frame.Text)
	}
	if len(rest) != 0 {
		t.Fatalf("expected empty remainder, got %q", rest)
	}
}

func TestParseResponseMultiLine(t *testing.T) {
	buf := []byte("211-Status\r\nStatus line 2\r\n211 End\r\n")
	frame, rest, ok := ParseResponse(buf)
	if !ok {
		t.Fatal("expected a parsed frame")
	}
	if frame.Code != 211 {
		t.Fatalf("got code %d", frame.Code)
	}
	want := "Status\nStatus line 2\nEnd"
	if frame.Text != want {
		t.Fatalf("got text %q, want %q", frame.Text, want)
	}
	if len(rest) != 0 {
		t.Fatalf("expected empty remainder, got %q", rest)
	}
}

func TestParseResponseIncomplete(t *testing.T) {
	_, rest, ok := ParseResponse([]byte("211-Status\r\nStatus line 2\r\n"))
	if ok {
		t.Fatal("expected no frame until the terminal line arrives")
	}
	if string(rest) != "211-Status\r\nStatus line 2\r\n" {
		t.Fatalf("expected buffer to be untouched, got %q", rest)
	}
}

func TestParseResponseChunkingInvariance(t *testing.T) {
	full := []byte("150 opening data connection\r\n226 transfer complete\r\n")

	var oneShot []*Frame
	buf := full
	for {
		f, rest, ok := ParseResponse(buf)
		if !ok {
			break
		}
		oneShot = append(oneShot, f)
		buf = rest
	}

	chunkings := [][]int{
		{1, 1, 1, len(full)},
		{5, 10, 3},
		{len(full)},
	}

	for _, sizes := range chunkings {
		var acc []byte
		var got []*Frame
		pos := 0
		for _, n := range sizes {
			end := pos + n
			if end > len(full) {
				end = len(full)
			}
			acc = append(acc, full[pos:end]...)
			pos = end
			for {
				f, rest, ok := ParseResponse(acc)
				if !ok {
					break
				}
				got = append(got, f)
				acc = rest
			}
			if pos >= len(full) {
				break
			}
		}
		if len(got) != len(oneShot) {
			t.Fatalf("chunking %v: got %d frames, want %d", sizes, len(got), len(oneShot))
		}
		for i := range got {
			if got[i].Code != oneShot[i].Code || got[i].Text != oneShot[i].Text {
				t.Fatalf("chunking %v: frame %d mismatch: got %+v, want %+v", sizes, i, got[i], oneShot[i])
			}
		}
	}
}

func TestParsePASV(t *testing.T) {
	ip, port, err := parsePASV("Entering Passive Mode (127,0,0,1,195,80)")
	if err != nil {
		t.Fatal(err)
	}
	if ip != "127.0.0.1" {
		t.Fatalf("got ip %q", ip)
	}
	if want := 195*256 + 80; port != want {
		t.Fatalf("got port %d, want %d", port, want)
	}
}

func TestParsePASVNoTuple(t *testing.T) {
	if _, _, err := parsePASV("nothing useful here"); err == nil {
		t.Fatal("expected an error for a missing tuple")
	}
}

func TestParseFeatures(t *testing.T) {
	text := "Extensions supported:\nMODE Z\nMLSD\nUTF8\nEnd"
	caps := parseFeatures(text)
	for _, want := range []string{"MODE Z", "MLSD", "UTF8"} {
		if !caps[want] {
			t.Errorf("expected capability %q", want)
		}
	}
	if len(caps) != 3 {
		t.Errorf("got %d capabilities, want 3: %v", len(caps), caps)
	}
}

func FuzzParseResponse(f *testing.F) {
	f.Add([]byte("220 welcome\r\n"))
	f.Add([]byte("211-Status\r\nStatus line 2\r\n211 End\r\n"))
	f.Add([]byte("not a response at all"))
	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic, regardless of input.
		ParseResponse(data)
	})
}
