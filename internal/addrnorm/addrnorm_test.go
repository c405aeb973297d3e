package addrnorm

import "testing"

func TestNormalizeIdempotent(t *testing.T) {
	a := "0xAbCdEf0000000000000000000000000000000001"
	if Normalize(Normalize(a)) != Normalize(a) {
		t.Fatalf("normalize not idempotent")
	}
}

func TestEqualCaseInsensitive(t *testing.T) {
	a := "0xABCDEF0000000000000000000000000000000001"
	b := "0xabcdef0000000000000000000000000000000001"
	if !Equal(a, b) {
		t.Fatalf("expected %s == %s after normalization", a, b)
	}
}
