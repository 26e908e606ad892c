package ftp

import (
	"io"

	"github.com/klauspost/compress/flate"
)

// newDeflateWriter wraps w with a MODE Z deflate stage at the given
// zlib compression level (0-9; flate.DefaultCompression if out of
// range). The caller must Close the returned writer to flush the
// final block.
func newDeflateWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level < 0 || level > 9 {
		level = flate.DefaultCompression
	}
	return flate.NewWriter(w, level)
}

// newInflateReader wraps r with a MODE Z inflate stage.
func newInflateReader(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}
