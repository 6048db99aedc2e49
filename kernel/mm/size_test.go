package mm

import "testing"

func TestSizeToOrder(t *testing.T) {
	specs := []struct {
		size     Size
		expOrder PageOrder
	}{
		{1 * Byte, PageOrder(0)},
		{1 * Kb, PageOrder(0)},
		{PageSize, PageOrder(0)},
		{PageSize + 1, PageOrder(1)},
		{8 * Kb, PageOrder(1)},
		{64 * Kb, PageOrder(4)},
		{2 * Mb, PageOrder(9)},
		{32 * Mb, MaxPageOrder - 1},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Order(); got != spec.expOrder {
			t.Errorf("[spec %d] expected to get page order %d; got %d", specIndex, spec.expOrder, got)
		}
	}
}

func TestSizeToPages(t *testing.T) {
	specs := []struct {
		size     Size
		expPages uint32
	}{
		{1023 * Kb, 256},
		{1024 * Kb, 256},
		{1 * Byte, 1},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Pages(); got != spec.expPages {
			t.Errorf("[spec %d] expected Pages(%d bytes) to equal %d; got %d", specIndex, spec.size, spec.expPages, got)
		}
	}
}

func TestMaxOrderAlign(t *testing.T) {
	if exp := 32 * Mb; MaxOrderAlign != exp {
		t.Fatalf("expected the maximum-order block size to be %d bytes; got %d", exp, MaxOrderAlign)
	}
}
