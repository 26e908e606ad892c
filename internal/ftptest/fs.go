package ftptest

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

type node struct {
	isDir   bool
	data    []byte
	modTime time.Time
}

// fileSystem is a trivial in-memory tree keyed by absolute path, enough
// to back LIST/RETR/STOR/MKD/RMD/RNFR-RNTO for tests.
type fileSystem struct {
	mu    sync.Mutex
	nodes map[string]*node
}

func newFileSystem() *fileSystem {
	fs := &fileSystem{nodes: map[string]*node{}}
	fs.nodes["/"] = &node{isDir: true, modTime: time.Now()}
	return fs
}

func (fs *fileSystem) writeFile(p string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.ensureParents(p)
	fs.nodes[p] = &node{data: append([]byte(nil), data...), modTime: time.Now()}
}

func (fs *fileSystem) appendFile(p string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.ensureParents(p)
	n, ok := fs.nodes[p]
	if !ok {
		n = &node{}
		fs.nodes[p] = n
	}
	n.data = append(n.data, data...)
	n.modTime = time.Now()
}

func (fs *fileSystem) ensureParents(p string) {
	dir := parentOf(p)
	for dir != "" {
		if _, ok := fs.nodes[dir]; ok {
			return
		}
		fs.nodes[dir] = &node{isDir: true, modTime: time.Now()}
		if dir == "/" {
			return
		}
		dir = parentOf(dir)
	}
}

func (fs *fileSystem) readFile(p string) ([]byte, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[p]
	if !ok || n.isDir {
		return nil, false
	}
	return n.data, true
}

func (fs *fileSystem) remove(p string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[p]
	if !ok || n.isDir {
		return false
	}
	delete(fs.nodes, p)
	return true
}

func (fs *fileSystem) mkdir(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.ensureParents(p)
	if _, ok := fs.nodes[p]; !ok {
		fs.nodes[p] = &node{isDir: true, modTime: time.Now()}
	}
}

func (fs *fileSystem) rmdir(p string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[p]
	if !ok || !n.isDir {
		return false
	}
	for other := range fs.nodes {
		if other != p && parentOf(other) == p {
			return false
		}
	}
	delete(fs.nodes, p)
	return true
}

func (fs *fileSystem) rmdirTree(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	prefix := strings.TrimSuffix(p, "/") + "/"
	for other := range fs.nodes {
		if strings.HasPrefix(other, prefix) {
			delete(fs.nodes, other)
		}
	}
	delete(fs.nodes, p)
}

func (fs *fileSystem) rename(from, to string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[from]
	if !ok {
		return
	}
	delete(fs.nodes, from)
	fs.nodes[to] = n
}

func (fs *fileSystem) modTime(p string) (time.Time, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[p]
	if !ok {
		return time.Time{}, false
	}
	return n.modTime, true
}

func (fs *fileSystem) setModTime(p string, t time.Time) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n, ok := fs.nodes[p]; ok {
		n.modTime = t
	}
}

func (fs *fileSystem) exists(p string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.nodes[p]
	return ok
}

func (fs *fileSystem) isDir(p string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[p]
	return ok && n.isDir
}

// list returns the immediate child names of dir.
func (fs *fileSystem) list(dir string) []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var names []string
	for p := range fs.nodes {
		if p == dir || p == "/" {
			continue
		}
		if parentOf(p) == dir {
			names = append(names, baseName(p))
		}
	}
	return names
}

func (fs *fileSystem) lsLine(full, name string) string {
	fs.mu.Lock()
	n := fs.nodes[full]
	fs.mu.Unlock()
	if n == nil {
		return fmt.Sprintf("-rw-r--r-- 1 ftp ftp 0 Jan 01 00:00 %s", name)
	}
	typeChar := byte('-')
	size := len(n.data)
	if n.isDir {
		typeChar = 'd'
		size = 0
	}
	return fmt.Sprintf("%crw-r--r-- 1 ftp ftp %d %s %s",
		typeChar, size, n.modTime.Format("Jan 02 15:04"), name)
}

func (fs *fileSystem) mlsxFacts(full, name string) string {
	fs.mu.Lock()
	n := fs.nodes[full]
	fs.mu.Unlock()
	if n == nil {
		return "type=file;size=0; " + name
	}
	typ := "file"
	if n.isDir {
		typ = "dir"
	}
	return fmt.Sprintf("type=%s;size=%d;modify=%s; %s",
		typ, len(n.data), n.modTime.UTC().Format("20060102150405"), name)
}

func resolvePath(cwd, p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Clean(path.Join(cwd, p))
}

func joinPath(dir, name string) string {
	return path.Clean(path.Join(dir, name))
}

func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	parent := path.Dir(p)
	return parent
}

func baseName(p string) string {
	return path.Base(p)
}
