package sandbox

import "io"

// limitedWriter caps how much command output is retained. Writes past the cap
// are reported as successful so the child process is never blocked.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.max <= 0 {
		return lw.w.Write(p)
	}
	if lw.written >= lw.max {
		lw.discarded += int64(n)
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		lw.discarded += int64(n) - remaining
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

func (lw *limitedWriter) truncated() bool { return lw.discarded > 0 }
