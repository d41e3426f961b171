package burn

import "testing"

func TestSplit(t *testing.T) {
	cases := []struct {
		gross  int64
		burned int64
		net    int64
	}{
		{0, 0, 0},
		{1, 0, 1},
		{3, 0, 3}, // below the floor threshold nothing burns
		{4, 1, 3}, // floor rule: small settlements still burn one unit
		{7, 1, 6},
		{8, 2, 6},
		{10, 2, 8},
		{100, 25, 75},
		{1001, 250, 751},
	}
	for _, tc := range cases {
		burned, net := Split(tc.gross)
		if burned != tc.burned || net != tc.net {
			t.Fatalf("Split(%d) = (%d, %d), want (%d, %d)", tc.gross, burned, net, tc.burned, tc.net)
		}
		if burned+net != tc.gross {
			t.Fatalf("Split(%d) does not conserve: %d + %d", tc.gross, burned, net)
		}
	}
}

func TestSplitNegative(t *testing.T) {
	burned, net := Split(-5)
	if burned != 0 || net != -5 {
		t.Fatalf("Split(-5) = (%d, %d), want (0, -5)", burned, net)
	}
}
