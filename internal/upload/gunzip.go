package upload

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var errNotGzip = errors.New("not a gzip file")

const progressEvery = 100 * time.Millisecond

// gunzipInPlace replaces the gzip file at path with its decompressed content
// and returns the decompressed size. A positive expected size must match.
// report is called periodically with the number of bytes written so far.
func gunzipInPlace(path string, expected int64, report func(written int64)) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	br := bufio.NewReaderSize(in, 1<<20)
	magic, err := br.Peek(2)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errNotGzip, err)
	}
	if magic[0] != 0x1f || magic[1] != 0x8b {
		return 0, errNotGzip
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	tmp := path + ".decompressing"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	cw := &countingWriter{w: out, report: report}
	written, err := io.Copy(cw, zr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && expected > 0 && written != expected {
		err = fmt.Errorf("decompressed size mismatch: got %d bytes, expected %d bytes", written, expected)
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return written, nil
}

// countingWriter reports write progress at most once per progressEvery.
type countingWriter struct {
	w      io.Writer
	n      int64
	last   time.Time
	report func(int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if c.report != nil && time.Since(c.last) >= progressEvery {
		c.report(c.n)
		c.last = time.Now()
	}
	return n, err
}
