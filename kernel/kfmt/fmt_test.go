package kfmt

import (
	"bytes"
	"testing"

	"mentos/kernel"
)

func TestPrintfBuffersUntilSinkRegistered(t *testing.T) {
	defer func() {
		outputSink = nil
		earlyPrintBuffer = ringBuffer{}
	}()

	outputSink = nil
	earlyPrintBuffer = ringBuffer{}

	Printf("zone %s: %d/%d pages free\n", "Normal", 42, 128)

	var sink bytes.Buffer
	SetOutputSink(&sink)

	if exp, got := "zone Normal: 42/128 pages free\n", sink.String(); got != exp {
		t.Fatalf("expected buffered output to be flushed to the sink as %q; got %q", exp, got)
	}

	Printf("order %d\n", 3)
	if exp, got := "zone Normal: 42/128 pages free\norder 3\n", sink.String(); got != exp {
		t.Fatalf("expected direct output %q; got %q", exp, got)
	}
}

func TestPrefixWriter(t *testing.T) {
	var sink bytes.Buffer
	w := &PrefixWriter{Sink: &sink, Prefix: []byte("[pmm] ")}

	Fprintf(w, "system memory map:\n")
	Fprintf(w, "zone %s\nzone %s\n", "Normal", "HighMem")

	exp := "[pmm] system memory map:\n[pmm] zone Normal\n[pmm] zone HighMem\n"
	if got := sink.String(); got != exp {
		t.Fatalf("expected prefixed output:\n%q\ngot:\n%q", exp, got)
	}

	// A line assembled by multiple writes gets the prefix only once.
	sink.Reset()
	Fprintf(w, "zone %s: ", "Normal")
	Fprintf(w, "%d pages free\n", 128)

	exp = "[pmm] zone Normal: 128 pages free\n"
	if got := sink.String(); got != exp {
		t.Fatalf("expected prefixed output:\n%q\ngot:\n%q", exp, got)
	}
}

func TestPanic(t *testing.T) {
	defer func() {
		outputSink = nil
		earlyPrintBuffer = ringBuffer{}
	}()

	var sink bytes.Buffer
	SetOutputSink(&sink)

	errCorrupt := &kernel.Error{Module: "buddy", Message: "descriptor outside mem_map"}

	defer func() {
		got := recover()
		if got != errCorrupt {
			t.Fatalf("expected to recover the original *kernel.Error; got %v", got)
		}

		if !bytes.Contains(sink.Bytes(), []byte("[buddy] unrecoverable error: descriptor outside mem_map")) {
			t.Fatalf("expected panic banner to contain the error; got %q", sink.String())
		}
	}()

	Panic(errCorrupt)
}
