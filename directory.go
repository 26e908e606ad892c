package ftp

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Entry is the file-item record returned by List, matching the
// fields spec.md §6 names for the external listing-parser collaborator
// ("type, name, extension, fullPath, parentPath, permissions,
// numericPermissions, rights, owner, group, size, ftime, date, hidden,
// sticky, inodeCount, target").
type Entry struct {
	Type string // "-" (file), "d" (dir), "l" (link)
	Name string

	Extension  string
	FullPath   string
	ParentPath string

	Permissions        string // 9-char rwx string, e.g. "rwxr-xr-x"
	NumericPermissions int    // octal, e.g. 0755
	Rights             Rights

	Owner string
	Group string

	Size  int64
	FTime string // raw server-supplied date/time text
	Date  time.Time

	Hidden     bool
	Sticky     bool
	InodeCount int64
	Target     string // symlink target, empty otherwise

	Raw string
}

// Rights splits Permissions into its three rwx triplets.
type Rights struct {
	User  string
	Group string
	Other string
}

// ListingParser parses one LIST response line into an Entry.
type ListingParser interface {
	Parse(line string) (*Entry, bool)
}

// List returns the directory listing for path (empty lists the
// current directory). all requests the hidden-file variant (`LIST -A`),
// per spec.md §4.7's `list(path, all)` verb.
func (c *Client) List(dir string, all bool) ([]*Entry, error) {
	var buf bytes.Buffer
	if err := c.download(listCommand(dir, all), &buf); err != nil {
		return nil, err
	}

	var entries []*Entry
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		line := scanner.Text()
		if entry := parseListLine(line, c.parsers); entry != nil {
			finishEntry(entry, dir)
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func listCommand(dir string, all bool) string {
	cmd := "LIST"
	if all {
		cmd += " -A"
	}
	if dir == "" {
		return cmd
	}
	return cmd + " " + dir
}

// finishEntry derives Extension/FullPath/ParentPath/Hidden from Name
// and the directory the listing was taken from.
func finishEntry(e *Entry, dir string) {
	e.FullPath = path.Join(dir, e.Name)
	e.ParentPath = dir
	e.Hidden = strings.HasPrefix(e.Name, ".")
	if e.Type != "d" {
		if ext := path.Ext(e.Name); ext != "" {
			e.Extension = strings.TrimPrefix(ext, ".")
		}
	}
}

// download runs a passive, non-upload Request through the engine,
// streaming its data channel into dst.
func (c *Client) download(command string, dst *bytes.Buffer) error {
	req := NewRequest(command).ExpectSuccess(226, 250)
	req.Output = dst
	err := c.engine.SubmitAndWait(req)
	c.noteActivity()
	return err
}

// NameList returns plain file/directory names via NLST, per spec.md
// §4.7.
func (c *Client) NameList(dir string) ([]string, error) {
	cmd := "NLST"
	if dir != "" {
		cmd = "NLST " + dir
	}
	var buf bytes.Buffer
	if err := c.download(cmd, &buf); err != nil {
		return nil, err
	}
	var names []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// ChangeDir changes the current working directory (CWD).
func (c *Client) ChangeDir(dir string) error {
	_, err := c.simple("CWD "+dir, 250)
	return err
}

// ChangeDirUp moves to the parent directory (CDUP).
func (c *Client) ChangeDirUp() error {
	_, err := c.simple("CDUP", 250)
	return err
}

// CurrentDir returns the working directory via PWD.
func (c *Client) CurrentDir() (string, error) {
	req, err := c.simple("PWD", 257)
	if err != nil {
		return "", err
	}
	return parseQuotedPath(req.Text)
}

func parseQuotedPath(msg string) (string, error) {
	start := strings.Index(msg, "\"")
	if start == -1 {
		return "", fmt.Errorf("invalid PWD response: %s", msg)
	}
	end := strings.Index(msg[start+1:], "\"")
	if end == -1 {
		return "", fmt.Errorf("invalid PWD response: %s", msg)
	}
	return msg[start+1 : start+1+end], nil
}

// MakeDir creates a directory. When recursive is true and the server
// advertises "SITE MKDIR", that form is used instead of plain MKD.
func (c *Client) MakeDir(dir string, recursive bool) error {
	if recursive && c.caps["SITE MKDIR"] {
		_, err := c.simple("SITE MKDIR "+dir, 200)
		return err
	}
	_, err := c.simple("MKD "+dir, 257)
	return err
}

// RemoveDir removes a directory. When recursive is true and the server
// advertises "SITE RMDIR", that form is used; otherwise the tree is
// emptied with LIST+DELE+RMD, deepest directories first, per spec.md
// §4.7's fallback.
func (c *Client) RemoveDir(dir string, recursive bool) error {
	if !recursive {
		_, err := c.simple("RMD "+dir, 250)
		return err
	}
	if c.caps["SITE RMDIR"] {
		_, err := c.simple("SITE RMDIR "+dir, 200)
		return err
	}
	return c.removeDirRecursive(dir)
}

func (c *Client) removeDirRecursive(root string) error {
	var dirs []string
	var files []string
	if err := c.collectTree(root, &dirs, &files); err != nil {
		return err
	}

	for _, f := range files {
		if err := c.Delete(f); err != nil {
			return err
		}
	}

	dirs = append(dirs, root)
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})
	for _, d := range dirs {
		if _, err := c.simple("RMD "+d, 250); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) collectTree(dir string, dirs, files *[]string) error {
	entries, err := c.List(dir, false)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		full := path.Join(dir, e.Name)
		if e.Type == "d" {
			*dirs = append(*dirs, full)
			if err := c.collectTree(full, dirs, files); err != nil {
				return err
			}
		} else {
			*files = append(*files, full)
		}
	}
	return nil
}

// Delete removes a file (DELE).
func (c *Client) Delete(path string) error {
	_, err := c.simple("DELE "+path, 250)
	return err
}

// Rename renames a file or directory via RNFR then RNTO, batched as
// two Requests submitted in sequence per spec.md §4.7.
func (c *Client) Rename(from, to string) error {
	if _, err := c.simple("RNFR "+from, 350); err != nil {
		return err
	}
	_, err := c.simple("RNTO "+to, 250)
	return err
}

// Size returns a file's byte size via SIZE.
func (c *Client) Size(path string) (int64, error) {
	req, err := c.simple("SIZE "+path, 213)
	if err != nil {
		return 0, err
	}
	size, perr := strconv.ParseInt(strings.TrimSpace(req.Text), 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("invalid SIZE response: %s", req.Text)
	}
	return size, nil
}

// ModTime returns a file's modification time via MDTM.
func (c *Client) ModTime(path string) (time.Time, error) {
	req, err := c.simple("MDTM "+path, 213)
	if err != nil {
		return time.Time{}, err
	}
	return parseMDTM(req.Text)
}

func parseMDTM(text string) (time.Time, error) {
	ts := strings.TrimSpace(text)
	if idx := strings.IndexByte(ts, '.'); idx >= 0 {
		ts = ts[:idx]
	}
	if len(ts) != 14 {
		return time.Time{}, fmt.Errorf("invalid MDTM response format: %s", text)
	}
	t, err := time.Parse("20060102150405", ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse MDTM timestamp: %w", err)
	}
	return t.UTC(), nil
}

// SetModTime sets a file's modification time via MFMT, gated on the
// server advertising it.
func (c *Client) SetModTime(path string, t time.Time) error {
	if err := c.requireCapability("MFMT", "SetModTime"); err != nil {
		return err
	}
	ts := t.UTC().Format("20060102150405")
	_, err := c.simple("MFMT "+ts+" "+path, 213)
	return err
}

// FileExists reports whether path appears in its parent directory's
// listing.
func (c *Client) FileExists(filePath string) (bool, error) {
	dir := path.Dir(filePath)
	name := path.Base(filePath)
	entries, err := c.List(dir, false)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// parseListLine tries parsers in order, falling back to a built-in
// Unix/DOS/EPLF trio when none are configured.
func parseListLine(line string, parsers []ListingParser) *Entry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if len(parsers) == 0 {
		parsers = []ListingParser{&EPLFParser{}, &DOSParser{}, &UnixParser{}}
	}
	for _, p := range parsers {
		if entry, ok := p.Parse(trimmed); ok {
			return entry
		}
	}
	return &Entry{Raw: line, Name: trimmed, Type: "-"}
}

// UnixParser parses Unix-style LIST lines (9 or 8 fields, symbolic or
// numeric permissions).
type UnixParser struct{}

func (p *UnixParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil, false
	}
	entry := &Entry{Raw: line}
	if !parseUnixEntry(entry, fields) {
		return nil, false
	}
	return entry, true
}

func parseUnixEntry(entry *Entry, fields []string) bool {
	perms := fields[0]
	isSymbolic := len(perms) >= 1 && strings.ContainsRune("-dlbcps", rune(perms[0]))
	isNumeric := len(perms) >= 3 && len(perms) <= 4
	for _, ch := range perms {
		if ch < '0' || ch > '7' {
			isNumeric = false
			break
		}
	}
	if !isSymbolic && !isNumeric {
		return false
	}

	if isSymbolic {
		entry.Type = string(perms[0])
		if len(perms) == 10 {
			entry.Permissions = perms[1:]
			entry.Rights = Rights{User: perms[1:4], Group: perms[4:7], Other: perms[7:10]}
			entry.NumericPermissions = rwxToOctal(entry.Permissions)
			entry.Sticky = perms[9] == 't' || perms[9] == 'T'
		}
	} else {
		entry.Type = "-"
		if n, err := strconv.ParseInt(perms, 8, 32); err == nil {
			entry.NumericPermissions = int(n)
		}
	}

	var sizeIdx, nameStartIdx int
	if len(fields) >= 9 {
		if _, err := parseSize(fields[4]); err == nil {
			sizeIdx, nameStartIdx = 4, 8
			entry.Owner, entry.Group = fields[2], fields[3]
		} else if _, err := parseSize(fields[3]); err == nil {
			sizeIdx, nameStartIdx = 3, 7
			entry.Owner = fields[2]
		} else {
			return false
		}
	} else {
		if _, err := parseSize(fields[3]); err != nil {
			return false
		}
		sizeIdx, nameStartIdx = 3, 7
		entry.Owner = fields[2]
	}

	size, err := parseSize(fields[sizeIdx])
	if err != nil {
		return false
	}
	entry.Size = size
	entry.FTime = strings.Join(fields[sizeIdx+1:nameStartIdx], " ")

	fullName := strings.Join(fields[nameStartIdx:], " ")
	if entry.Type == "l" {
		if before, after, ok := strings.Cut(fullName, " -> "); ok {
			entry.Name, entry.Target = before, after
		} else {
			entry.Name = fullName
		}
	} else {
		entry.Name = fullName
	}
	return true
}

// rwxToOctal implements spec.md §9's resolved open question: standard
// octal rwx->digit mapping per triplet, not the source's buggy
// Math.pow(2, |2-i|) formula.
func rwxToOctal(perm string) int {
	if len(perm) != 9 {
		return 0
	}
	var out int
	for t := 0; t < 3; t++ {
		triplet := perm[t*3 : t*3+3]
		var digit int
		if triplet[0] == 'r' {
			digit |= 4
		}
		if triplet[1] == 'w' {
			digit |= 2
		}
		if triplet[2] == 'x' || triplet[2] == 's' || triplet[2] == 't' {
			digit |= 1
		}
		out = out*8 + digit
	}
	return out
}

// DOSParser parses DOS/Windows-style LIST lines.
type DOSParser struct{}

func (p *DOSParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !isDOSDate(fields[0]) {
		return nil, false
	}
	entry := &Entry{Raw: line}
	if !parseDOSEntry(entry, fields) {
		return nil, false
	}
	return entry, true
}

func parseDOSEntry(entry *Entry, fields []string) bool {
	entry.FTime = fields[0] + " " + fields[1]
	if fields[2] == "<DIR>" {
		entry.Type = "d"
		entry.Name = strings.Join(fields[3:], " ")
		return true
	}
	size, err := parseSize(fields[2])
	if err != nil {
		return false
	}
	entry.Type = "-"
	entry.Size = size
	entry.Name = strings.Join(fields[3:], " ")
	return true
}

func isDOSDate(s string) bool {
	var parts []string
	switch {
	case strings.Contains(s, "-"):
		parts = strings.Split(s, "-")
	case strings.Contains(s, "/"):
		parts = strings.Split(s, "/")
	default:
		return false
	}
	if len(parts) != 3 {
		return false
	}
	for i, part := range parts {
		if len(part) < 1 || len(part) > 4 {
			return false
		}
		if i == 2 && len(part) != 2 && len(part) != 4 {
			return false
		}
		if i < 2 && len(part) > 2 {
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}

// EPLFParser parses EPLF ("+facts\tname") LIST lines.
type EPLFParser struct{}

func (p *EPLFParser) Parse(line string) (*Entry, bool) {
	if !strings.HasPrefix(line, "+") {
		return nil, false
	}
	entry := &Entry{Raw: line}
	if !parseEPLFEntry(entry, line) {
		return nil, false
	}
	return entry, true
}

func parseEPLFEntry(entry *Entry, line string) bool {
	line = line[1:]
	idx := strings.IndexAny(line, "\t ")
	if idx == -1 {
		return false
	}
	facts := line[:idx]
	name := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return false
	}
	entry.Name = name
	entry.Type = "-"
	for _, fact := range strings.Split(facts, ",") {
		if fact == "" {
			continue
		}
		switch fact[0] {
		case '/':
			entry.Type = "d"
		case 's':
			if len(fact) > 1 {
				if size, err := parseSize(fact[1:]); err == nil {
					entry.Size = size
				}
			}
		}
	}
	return true
}

func parseSize(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
