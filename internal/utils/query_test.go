package utils

import "testing"

func TestBoundedInt(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"blank uses default", "", 5},
		{"spaces trimmed", " 7 ", 7},
		{"garbage uses default", "diez", 5},
		{"below range", "0", 1},
		{"negative", "-3", 1},
		{"above range", "500", 50},
		{"overflow uses default", "99999999999999999999", 5},
		{"upper bound kept", "50", 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BoundedInt(tc.in, 5, 1, 50); got != tc.want {
				t.Fatalf("BoundedInt(%q) = %d; want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestBoundedInt_DefaultIsClampedToo(t *testing.T) {
	if got := BoundedInt("", 0, 1, 10); got != 1 {
		t.Fatalf("default below range should clamp, got %d", got)
	}
}
