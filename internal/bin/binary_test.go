package bin

import "testing"

func TestUintLERoundtrip(t *testing.T) {
	cases := []struct {
		v uint64
		n int
	}{
		{0, 1},
		{0xff, 1},
		{0x1122, 2},
		{0x112233, 3},
		{0x11223344556677, 7},
		{0xffffffffffffffff, 8},
	}
	for _, tc := range cases {
		var buf [8]byte
		PutUintLE(buf[:], tc.v, tc.n)
		if got := UintLE(buf[:], tc.n); got != tc.v {
			t.Fatalf("roundtrip %#x over %d bytes: got %#x", tc.v, tc.n, got)
		}
	}
}

func TestUintLETruncates(t *testing.T) {
	var buf [8]byte
	PutUintLE(buf[:], 0x11223344, 2)
	if got := UintLE(buf[:], 2); got != 0x3344 {
		t.Fatalf("got %#x, want 0x3344", got)
	}
}
