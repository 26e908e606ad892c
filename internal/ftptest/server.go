// Package ftptest is a minimal in-process FTP server used only by this
// module's own tests, grounded on fclairamb/ftpserverlib's per-command
// handler dispatch (handle*() methods + writeMessage(code, text)) but
// reduced to an in-memory filesystem and the command subset the
// client exercises.
package ftptest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
)

// Server is a single-listener FTP server backed by an in-memory
// filesystem. Not safe for concurrent transfers across multiple
// clients sharing state beyond the filesystem.
type Server struct {
	ln net.Listener
	fs *fileSystem
}

// New starts a server listening on 127.0.0.1 with an ephemeral port.
func New() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, fs: newFileSystem()}
	go s.serve()
	return s, nil
}

// Addr returns the "host:port" clients should Dial.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// WriteFile seeds the in-memory filesystem before a test connects.
func (s *Server) WriteFile(path string, data []byte) { s.fs.writeFile(path, data) }

// ReadFile reads back a file the client stored, for test assertions.
func (s *Server) ReadFile(path string) ([]byte, bool) { return s.fs.readFile(path) }

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go newSession(conn, s.fs).run()
	}
}

type session struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	fs   *fileSystem

	cwd        string
	renameFrom string
	typeCode   string
	modeZ      bool

	pasvLn net.Listener

	mu sync.Mutex
}

func newSession(conn net.Conn, fs *fileSystem) *session {
	return &session{
		conn:     conn,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
		fs:       fs,
		cwd:      "/",
		typeCode: "A",
	}
}

func (s *session) run() {
	defer s.conn.Close()
	s.reply(220, "ftptest server ready")
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)
		if s.dispatch(verb, arg) {
			return
		}
	}
}

// dispatch handles one command; returns true if the session should end.
func (s *session) dispatch(verb, arg string) bool {
	switch verb {
	case "USER":
		s.reply(331, "password please")
	case "PASS":
		s.reply(230, "logged in")
	case "FEAT":
		s.replyMultiline(211, "Extensions supported:", []string{
			"MODE Z",
			"MLSD",
			"MLST",
			"MFMT",
			"SIZE",
			"MDTM",
			"SITE MKDIR",
			"SITE RMDIR",
			"UTF8",
		}, "End")
	case "SYST":
		s.reply(215, "UNIX Type: L8")
	case "STAT":
		s.reply(211, "ftptest status OK")
	case "NOOP":
		s.reply(200, "NOOP ok")
	case "TYPE":
		s.typeCode = strings.ToUpper(arg)
		s.reply(200, "type set to "+s.typeCode)
	case "PWD":
		s.reply(257, fmt.Sprintf("%q is the current directory", s.cwd))
	case "CWD":
		p := s.resolve(arg)
		if !s.fs.isDir(p) {
			s.reply(550, "no such directory")
			return false
		}
		s.cwd = p
		s.reply(250, "directory changed")
	case "CDUP":
		s.cwd = parentOf(s.cwd)
		s.reply(250, "directory changed")
	case "MODE":
		s.handleMode(arg)
	case "PASV":
		s.handlePASV()
	case "LIST", "NLST":
		s.handleList(verb, arg)
	case "MLSD":
		s.handleMLSD(arg)
	case "MLST":
		s.handleMLST(arg)
	case "RETR":
		s.handleRetr(arg)
	case "STOR":
		s.handleStor(arg, false)
	case "APPE":
		s.handleStor(arg, true)
	case "DELE":
		p := s.resolve(arg)
		if !s.fs.remove(p) {
			s.reply(550, "no such file")
			return false
		}
		s.reply(250, "file deleted")
	case "MKD":
		p := s.resolve(arg)
		s.fs.mkdir(p)
		s.reply(257, fmt.Sprintf("%q created", p))
	case "RMD":
		p := s.resolve(arg)
		if !s.fs.rmdir(p) {
			s.reply(550, "no such directory")
			return false
		}
		s.reply(250, "directory removed")
	case "RNFR":
		s.renameFrom = s.resolve(arg)
		s.reply(350, "ready for RNTO")
	case "RNTO":
		if s.renameFrom == "" {
			s.reply(503, "RNFR required first")
			return false
		}
		s.fs.rename(s.renameFrom, s.resolve(arg))
		s.renameFrom = ""
		s.reply(250, "renamed")
	case "SIZE":
		p := s.resolve(arg)
		data, ok := s.fs.readFile(p)
		if !ok {
			s.reply(550, "no such file")
			return false
		}
		s.reply(213, strconv.Itoa(len(data)))
	case "MDTM":
		p := s.resolve(arg)
		mt, ok := s.fs.modTime(p)
		if !ok {
			s.reply(550, "no such file")
			return false
		}
		s.reply(213, mt.UTC().Format("20060102150405"))
	case "MFMT":
		ts, path, ok := strings.Cut(arg, " ")
		if !ok {
			s.reply(501, "syntax error")
			return false
		}
		mt, err := time.Parse("20060102150405", ts)
		if err != nil {
			s.reply(501, "bad timestamp")
			return false
		}
		s.fs.setModTime(s.resolve(path), mt)
		s.reply(213, "Modify="+ts+"; "+path)
	case "SITE":
		s.handleSite(arg)
	case "ABOR":
		s.reply(226, "abort ok")
	case "QUIT":
		s.reply(221, "bye")
		return true
	default:
		s.reply(502, "command not implemented")
	}
	return false
}

func (s *session) handleMode(arg string) {
	switch strings.ToUpper(arg) {
	case "Z":
		s.modeZ = true
		s.reply(200, "MODE Z ok")
	case "S":
		s.modeZ = false
		s.reply(200, "MODE S ok")
	default:
		s.reply(504, "unsupported mode")
	}
}

func (s *session) handleSite(arg string) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		s.reply(501, "syntax error")
		return
	}
	switch strings.ToUpper(fields[0]) {
	case "MKDIR":
		if len(fields) < 2 {
			s.reply(501, "syntax error")
			return
		}
		s.fs.mkdir(s.resolve(fields[1]))
		s.reply(200, "directory created")
	case "RMDIR":
		if len(fields) < 2 {
			s.reply(501, "syntax error")
			return
		}
		s.fs.rmdirTree(s.resolve(fields[1]))
		s.reply(200, "directory removed")
	default:
		s.reply(200, "SITE ok")
	}
}

// stripListFlags drops LIST/NLST switch tokens (e.g. "-A", "-al") so
// the remainder can be resolved as a bare path, mirroring how real
// server LIST implementations separate ls(1)-style flags from the path
// argument.
func stripListFlags(arg string) string {
	fields := strings.Fields(arg)
	for len(fields) > 0 && strings.HasPrefix(fields[0], "-") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func (s *session) resolve(p string) string {
	if p == "" {
		return s.cwd
	}
	return resolvePath(s.cwd, p)
}

func (s *session) reply(code int, text string) {
	fmt.Fprintf(s.w, "%d %s\r\n", code, text)
	s.w.Flush()
}

func (s *session) replyMultiline(code int, first string, lines []string, last string) {
	fmt.Fprintf(s.w, "%d-%s\r\n", code, first)
	for _, l := range lines {
		fmt.Fprintf(s.w, " %s\r\n", l)
	}
	fmt.Fprintf(s.w, "%d %s\r\n", code, last)
	s.w.Flush()
}

// openPassive opens a listener for one PASV session and returns it.
func (s *session) handlePASV() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		s.reply(425, "cannot open passive connection")
		return
	}
	s.pasvLn = ln
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	hi, lo := port/256, port%256
	s.reply(227, fmt.Sprintf("Entering Passive Mode (127,0,0,1,%d,%d)", hi, lo))
}

// acceptData accepts the client's data connection for the armed PASV
// listener, wrapping it with MODE Z (de)compression if negotiated.
func (s *session) acceptData() (net.Conn, error) {
	if s.pasvLn == nil {
		return nil, fmt.Errorf("no passive listener armed")
	}
	ln := s.pasvLn
	s.pasvLn = nil
	defer ln.Close()
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *session) handleList(verb, arg string) {
	dir := s.resolve(stripListFlags(arg))
	s.reply(150, "opening data connection")
	conn, err := s.acceptData()
	if err != nil {
		s.reply(425, "data connection failed")
		return
	}
	dst := dataWriter(conn, s.modeZ)
	entries := s.fs.list(dir)
	sort.Strings(entries)
	for _, name := range entries {
		full := joinPath(dir, name)
		if verb == "NLST" {
			fmt.Fprintf(dst, "%s\r\n", name)
			continue
		}
		fmt.Fprintf(dst, "%s\r\n", s.fs.lsLine(full, name))
	}
	closeDataWriter(dst)
	conn.Close()
	s.reply(226, "transfer complete")
}

func (s *session) handleMLSD(arg string) {
	dir := s.resolve(arg)
	s.reply(150, "opening data connection")
	conn, err := s.acceptData()
	if err != nil {
		s.reply(425, "data connection failed")
		return
	}
	dst := dataWriter(conn, s.modeZ)
	for _, name := range s.fs.list(dir) {
		full := joinPath(dir, name)
		fmt.Fprintf(dst, "%s\r\n", s.fs.mlsxFacts(full, name))
	}
	closeDataWriter(dst)
	conn.Close()
	s.reply(226, "transfer complete")
}

func (s *session) handleMLST(arg string) {
	p := s.resolve(arg)
	if !s.fs.exists(p) {
		s.reply(550, "no such file")
		return
	}
	name := baseName(p)
	s.replyMultiline(250, "Listing "+p, []string{s.fs.mlsxFacts(p, name)}, "End")
}

func (s *session) handleRetr(arg string) {
	p := s.resolve(arg)
	data, ok := s.fs.readFile(p)
	if !ok {
		s.reply(550, "no such file")
		return
	}
	s.reply(150, "opening data connection")
	conn, err := s.acceptData()
	if err != nil {
		s.reply(425, "data connection failed")
		return
	}
	dst := dataWriter(conn, s.modeZ)
	dst.Write(data)
	closeDataWriter(dst)
	conn.Close()
	s.reply(226, "transfer complete")
}

func (s *session) handleStor(arg string, appending bool) {
	p := s.resolve(arg)
	s.reply(150, "opening data connection")
	conn, err := s.acceptData()
	if err != nil {
		s.reply(425, "data connection failed")
		return
	}
	src := dataReader(conn, s.modeZ)
	data, _ := io.ReadAll(src)
	conn.Close()
	if appending {
		s.fs.appendFile(p, data)
	} else {
		s.fs.writeFile(p, data)
	}
	s.reply(226, "transfer complete")
}

func dataWriter(conn net.Conn, modeZ bool) io.Writer {
	if !modeZ {
		return conn
	}
	return flate.NewWriter(conn, flate.DefaultCompression)
}

func closeDataWriter(w io.Writer) {
	if wc, ok := w.(io.WriteCloser); ok {
		wc.Close()
	}
}

func dataReader(conn net.Conn, modeZ bool) io.Reader {
	if !modeZ {
		return conn
	}
	return flate.NewReader(conn)
}
