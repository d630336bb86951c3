package bufpool

import "testing"

func TestGetReturnsRequestedCapacityTier(t *testing.T) {
	p := New()
	cases := []struct {
		size    int
		minCap  int
	}{
		{size: 100, minCap: 4096},
		{size: 8000, minCap: 16384},
		{size: 30000, minCap: 65536},
		{size: 100000, minCap: 100000},
	}
	for _, c := range cases {
		buf := p.Get(c.size)
		if cap(*buf) < c.minCap {
			t.Fatalf("Get(%d): cap = %d, want >= %d", c.size, cap(*buf), c.minCap)
		}
		if len(*buf) != 0 {
			t.Fatalf("Get(%d): len = %d, want 0", c.size, len(*buf))
		}
	}
}

func TestPutRecyclesBuffer(t *testing.T) {
	p := New()
	buf := p.Get(100)
	*buf = append(*buf, []byte("hello")...)
	p.Put(buf)

	again := p.Get(100)
	if len(*again) != 0 {
		t.Fatalf("recycled buffer len = %d, want 0", len(*again))
	}
}

func TestPutNilIsNoop(t *testing.T) {
	p := New()
	p.Put(nil) // must not panic
}

func TestPutOversizeDropped(t *testing.T) {
	p := New()
	buf := make([]byte, 0, 1<<20)
	p.Put(&buf) // larger than any tier; should be silently dropped
}
