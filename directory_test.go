package ftp

import "testing"

func TestUnixParserNineField(t *testing.T) {
	p := &UnixParser{}
	entry, ok := p.Parse("drwxr-xr-x 2 owner group 4096 Jan 01 00:00 pub")
	if !ok {
		t.Fatal("expected a parsed entry")
	}
	if entry.Type != "d" || entry.Name != "pub" || entry.Owner != "owner" || entry.Group != "group" {
		t.Fatalf("got %+v", entry)
	}
}

func TestUnixParserSymlink(t *testing.T) {
	p := &UnixParser{}
	entry, ok := p.Parse("lrwxrwxrwx 1 owner group 9 Jan 01 00:00 current -> /data/v2")
	if !ok {
		t.Fatal("expected a parsed entry")
	}
	if entry.Type != "l" || entry.Name != "current" || entry.Target != "/data/v2" {
		t.Fatalf("got %+v", entry)
	}
}

func TestUnixParserEightField(t *testing.T) {
	p := &UnixParser{}
	entry, ok := p.Parse("-rw-r--r-- 1 owner 1024 Jan 01 00:00 readme.txt")
	if !ok {
		t.Fatal("expected a parsed entry")
	}
	if entry.Size != 1024 || entry.Name != "readme.txt" {
		t.Fatalf("got %+v", entry)
	}
}

func TestDOSParser(t *testing.T) {
	p := &DOSParser{}
	entry, ok := p.Parse("09-24-24  10:30AM       <DIR>          logger")
	if !ok {
		t.Fatal("expected a parsed entry")
	}
	if entry.Type != "d" || entry.Name != "logger" {
		t.Fatalf("got %+v", entry)
	}

	entry, ok = p.Parse("12-14-23  12:22PM           1037794 large-document.pdf")
	if !ok {
		t.Fatal("expected a parsed entry")
	}
	if entry.Size != 1037794 || entry.Name != "large-document.pdf" {
		t.Fatalf("got %+v", entry)
	}
}

func TestEPLFParser(t *testing.T) {
	p := &EPLFParser{}
	entry, ok := p.Parse("+i8388621.48594,m825718503,r,s280,\tdjb.html")
	if !ok {
		t.Fatal("expected a parsed entry")
	}
	if entry.Name != "djb.html" || entry.Size != 280 || entry.Type != "-" {
		t.Fatalf("got %+v", entry)
	}
}

func TestRwxToOctal(t *testing.T) {
	cases := map[string]int{
		"rwxr-xr-x": 0755,
		"rw-r--r--": 0644,
		"rwxrwxrwx": 0777,
		"---------": 0,
	}
	for perm, want := range cases {
		if got := rwxToOctal(perm); got != want {
			t.Errorf("rwxToOctal(%q) = %o, want %o", perm, got, want)
		}
	}
}

func TestParseQuotedPath(t *testing.T) {
	got, err := parseQuotedPath(`257 "/home/user" is the current directory`)
	if err != nil {
		t.Fatal(err)
	}
	if got != "/home/user" {
		t.Fatalf("got %q", got)
	}
}

func TestParseMDTM(t *testing.T) {
	ts, err := parseMDTM("20231220143000")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Year() != 2023 || ts.Month() != 12 || ts.Day() != 20 {
		t.Fatalf("got %v", ts)
	}
}
