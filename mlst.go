package ftp

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MLEntry is a machine-readable directory entry from MLST/MLSD (RFC 3659).
type MLEntry struct {
	Name    string
	Type    string // "file", "dir", "cdir", "pdir", "link"
	Size    int64
	ModTime time.Time
	Perm    string
	Facts   map[string]string
}

// MLStat returns a single entry's facts via MLST, gated on the server
// advertising the MLST capability.
func (c *Client) MLStat(path string) (*MLEntry, error) {
	if err := c.requireCapability("MLST", "MLStat"); err != nil {
		return nil, err
	}
	req, err := c.simple("MLST "+path, 250)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(req.Text, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		return parseMLEntry(trimmed)
	}
	return nil, fmt.Errorf("no entry found in MLST response")
}

// MLList returns a machine-readable directory listing via MLSD, gated
// on the server advertising MLSD.
func (c *Client) MLList(dir string) ([]*MLEntry, error) {
	if err := c.requireCapability("MLSD", "MLList"); err != nil {
		return nil, err
	}
	cmd := "MLSD"
	if dir != "" {
		cmd = "MLSD " + dir
	}
	var buf bytes.Buffer
	if err := c.download(cmd, &buf); err != nil {
		return nil, err
	}

	var entries []*MLEntry
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if entry, err := parseMLEntry(line); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// parseMLEntry parses one "fact1=val1;fact2=val2; name" line.
func parseMLEntry(line string) (*MLEntry, error) {
	spaceIdx := strings.Index(line, " ")
	if spaceIdx == -1 {
		return nil, fmt.Errorf("invalid ML entry format: no space separator")
	}
	factsStr := line[:spaceIdx]
	name := line[spaceIdx+1:]

	facts := make(map[string]string)
	for _, pair := range strings.Split(factsStr, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		facts[strings.ToLower(k)] = v
	}

	entry := &MLEntry{Name: name, Facts: facts}
	if t, ok := facts["type"]; ok {
		entry.Type = strings.ToLower(t)
	}
	if s, ok := facts["size"]; ok {
		if size, err := strconv.ParseInt(s, 10, 64); err == nil {
			entry.Size = size
		}
	}
	if m, ok := facts["modify"]; ok {
		ts := strings.Split(m, ".")[0]
		if len(ts) == 14 {
			if mt, err := time.Parse("20060102150405", ts); err == nil {
				entry.ModTime = mt.UTC()
			}
		}
	}
	if p, ok := facts["perm"]; ok {
		entry.Perm = p
	}
	return entry, nil
}
