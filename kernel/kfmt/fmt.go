// Package kfmt provides formatted output for kernel subsystems. Output
// generated before a sink is registered is buffered and replayed once
// SetOutputSink is invoked.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before
	// an output sink is registered.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. If set
	// to nil, output is redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the early print buffer to it. Passing nil resumes
// buffering.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf formats according to format and writes the result to the registered
// output sink. If no sink has been registered yet the output accumulates in
// the early print buffer.
func Printf(format string, args ...interface{}) {
	if outputSink == nil {
		fmt.Fprintf(&earlyPrintBuffer, format, args...)
		return
	}

	fmt.Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}

// Output is an io.Writer that tracks the registered output sink. Writes
// performed before a sink is registered accumulate in the early print
// buffer. It is meant to be wrapped by writers like PrefixWriter so that
// subsystem output follows sink changes.
var Output io.Writer = sinkWriter{}

type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}

	return outputSink.Write(p)
}
