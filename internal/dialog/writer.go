package dialog

import "io"

// limitedWriter keeps at most limit bytes and discards the rest. Write always
// reports the full len(p) so the child never blocks on a full pipe.
type limitedWriter struct {
	w         io.Writer
	limit     int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		lw.truncated = lw.truncated || total > 0
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
