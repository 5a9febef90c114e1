package bxfile

import "testing"

func TestBytesComparatorCompare(t *testing.T) {
	cmp := BytesComparator{}
	cases := []struct {
		a, b []byte
		want int
	}{
		{[]byte("abc"), []byte("abc"), 0},
		{[]byte("abc"), []byte("abd"), -1},
		{[]byte("abd"), []byte("abc"), 1},
		{[]byte(""), []byte("a"), -1},
	}
	for _, c := range cases {
		got := cmp.Compare(c.a, c.b)
		if sign(got) != sign(c.want) {
			t.Errorf("Compare(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestBytesComparatorIntegrityCheck(t *testing.T) {
	cmp := BytesComparator{}
	if err := cmp.IntegrityCheck([]byte("k"), []byte("k")); !Is(err, ErrUniquenessViolation) {
		t.Fatalf("equal candidates should collide, got %v", err)
	}
	if err := cmp.IntegrityCheck([]byte("k1"), []byte("k2")); err != nil {
		t.Fatalf("distinct candidates should not collide: %v", err)
	}
}

func TestAsUniqueComparatorFallback(t *testing.T) {
	var plain Comparator = BytesComparator{}
	u := asUniqueComparator(plain)
	if u == nil {
		t.Fatal("asUniqueComparator returned nil")
	}
	if err := u.IntegrityCheck([]byte("a"), []byte("a")); !Is(err, ErrUniquenessViolation) {
		t.Fatalf("wrapped comparator should flag equal keys as colliding, got %v", err)
	}
}
