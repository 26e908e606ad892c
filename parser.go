package ftp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Frame is one parsed control-channel response: a three-digit code and
// the text of every line, joined with "\n" and stripped of the
// "<code>-"/"<code> " line prefixes.
type Frame struct {
	Code int
	Text string
	// Lines holds each raw response line (without the CRLF terminator),
	// in arrival order, before prefix stripping.
	Lines []string
}

// ParseResponse scans buf for the first complete response and returns the
// parsed Frame, the unconsumed remainder of buf, and whether a frame was
// found. It is pure and stateless: calling it repeatedly on a
// progressively larger buffer (as bytes arrive) yields the same frames,
// in the same order, as calling it once on the complete buffer — see
// spec.md §8's chunking-invariance property.
//
// The terminator pattern: at the start of buf or immediately after a
// newline, three decimal digits followed by a space, then any
// characters up to (and not including) the next newline. Continuation
// lines are accepted whether or not they repeat the "<code>-" prefix,
// per spec.md §4.1.
func ParseResponse(buf []byte) (*Frame, []byte, bool) {
	s := string(buf)

	term := findTerminator(s)
	if term < 0 {
		return nil, buf, false
	}

	code, _ := strconv.Atoi(s[term : term+3])
	lineEnd := strings.IndexByte(s[term:], '\n')
	if lineEnd < 0 {
		// Terminator line isn't complete yet.
		return nil, buf, false
	}
	lineEnd += term

	full := s[:lineEnd+1]
	rest := s[lineEnd+1:]

	lines := splitLines(full)
	text := stripLinePrefixes(lines, code)

	return &Frame{Code: code, Text: text, Lines: lines}, []byte(rest), true
}

// findTerminator returns the index within s of the first occurrence of
// three digits followed by a space that begins a line (start-of-string
// or right after '\n'). Returns -1 if none is present yet.
func findTerminator(s string) int {
	if isCodeSpace(s, 0) {
		return 0
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' && isCodeSpace(s, i+1) {
			return i + 1
		}
	}
	return -1
}

func isCodeSpace(s string, i int) bool {
	if i+4 > len(s) {
		return false
	}
	for j := 0; j < 3; j++ {
		if s[i+j] < '0' || s[i+j] > '9' {
			return false
		}
	}
	return s[i+3] == ' '
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	raw := strings.Split(s, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimSuffix(l, "\r"))
	}
	return lines
}

// stripLinePrefixes collapses a multi-line response into a single body,
// stripping "<code>-" or "<code> " from the start of any line that
// carries it, and joining the rest with "\n".
func stripLinePrefixes(lines []string, code int) string {
	codeStr := strconv.Itoa(code)
	var b strings.Builder
	for i, l := range lines {
		stripped := l
		if strings.HasPrefix(l, codeStr+"-") || strings.HasPrefix(l, codeStr+" ") {
			stripped = l[len(codeStr)+1:]
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(stripped)
	}
	return b.String()
}

var pasvPattern = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// parsePASV extracts the (ip, port) pair from a PASV response's text,
// per spec.md §4.1: port = hi*256 + lo.
func parsePASV(text string) (ip string, port int, err error) {
	m := pasvPattern.FindStringSubmatch(text)
	if m == nil {
		return "", 0, fmt.Errorf("no PASV tuple found in %q", text)
	}
	parts := make([]int, 6)
	for i := 0; i < 6; i++ {
		v, convErr := strconv.Atoi(m[i+1])
		if convErr != nil || v < 0 || v > 255 {
			return "", 0, fmt.Errorf("invalid PASV octet %q", m[i+1])
		}
		parts[i] = v
	}
	ip = fmt.Sprintf("%d.%d.%d.%d", parts[0], parts[1], parts[2], parts[3])
	port = parts[4]*256 + parts[5]
	return ip, port, nil
}

// parseFeatures splits a FEAT response body into a capability set.
// The first and last lines are the "Extensions supported:" banner and
// the terminator; everything in between, trimmed, is a capability token.
func parseFeatures(text string) map[string]bool {
	caps := make(map[string]bool)
	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	if len(lines) <= 2 {
		return caps
	}
	for _, l := range lines[1 : len(lines)-1] {
		tok := strings.ToUpper(strings.TrimSpace(l))
		if tok != "" {
			caps[tok] = true
		}
	}
	return caps
}
