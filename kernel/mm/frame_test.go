package mm

import "testing"

func TestFrameToAddress(t *testing.T) {
	specs := []struct {
		frame   Frame
		expAddr uintptr
	}{
		{Frame(0), 0},
		{Frame(1), 4096},
		{Frame(0x1000), 0x1000000},
	}

	for specIndex, spec := range specs {
		if got := spec.frame.Address(); got != spec.expAddr {
			t.Errorf("[spec %d] expected frame %d to map to address 0x%x; got 0x%x", specIndex, spec.frame, spec.expAddr, got)
		}
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		addr     uintptr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4097, Frame(1)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.addr); got != spec.expFrame {
			t.Errorf("[spec %d] expected address 0x%x to map to frame %d; got %d", specIndex, spec.addr, spec.expFrame, got)
		}
	}
}

func TestFrameIsValid(t *testing.T) {
	if InvalidFrame.IsValid() {
		t.Fatal("expected InvalidFrame.IsValid() to return false")
	}

	if !Frame(0).IsValid() {
		t.Fatal("expected Frame(0).IsValid() to return true")
	}
}
