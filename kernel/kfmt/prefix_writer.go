package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter tags the output of a kernel subsystem: every line that goes
// through it reaches Sink with the configured prefix injected at the line
// start. Subsystems wrap the package output with their own tag instead of
// repeating it in every format string.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	midLine bool
}

// Write sends p to the underlying sink, injecting the prefix whenever a
// write lands at the start of a line. The returned byte count covers only
// the bytes of p, not the injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) > 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		nl := bytes.IndexByte(p, '\n')
		if nl == -1 {
			n, err := w.Sink.Write(p)
			return written + n, err
		}

		n, err := w.Sink.Write(p[:nl+1])
		written += n
		if err != nil {
			return written, err
		}

		w.midLine = false
		p = p[nl+1:]
	}

	return written, nil
}
