package helpers

import (
	"bytes"
	"testing"
)

func TestHexRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{"prefixed", "0x0102ff", []byte{1, 2, 0xff}, false},
		{"upper prefix", "0XAB", []byte{0xab}, false},
		{"bare", "dead", []byte{0xde, 0xad}, false},
		{"empty", "", []byte{}, false},
		{"odd length", "0x123", nil, true},
		{"not hex", "zz", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HexToBytes(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("HexToBytes(%q) = %x, want %x", tt.in, got, tt.want)
			}
		})
	}

	if got := BytesToHex([]byte{0xca, 0xfe}); got != "0xcafe" {
		t.Errorf("BytesToHex = %s, want 0xcafe", got)
	}
}

func TestCloneBytes(t *testing.T) {
	src := []byte{1, 2, 3}
	dst := CloneBytes(src)
	src[0] = 9
	if dst[0] != 1 {
		t.Error("CloneBytes should copy, not alias")
	}
	if CloneBytes(nil) != nil {
		t.Error("CloneBytes(nil) should be nil")
	}
}

func TestGenerateSecureRandom(t *testing.T) {
	a, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom error: %v", err)
	}
	b, _ := GenerateSecureRandom(32)
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if bytes.Equal(a, b) {
		t.Error("two random draws should differ")
	}
}

func TestConstantTimeCompare(t *testing.T) {
	if !ConstantTimeCompare([]byte("abc"), []byte("abc")) {
		t.Error("equal slices should compare true")
	}
	if ConstantTimeCompare([]byte("abc"), []byte("abd")) {
		t.Error("different slices should compare false")
	}
	if ConstantTimeCompare([]byte("ab"), []byte("abc")) {
		t.Error("different lengths should compare false")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals uint8
		want     string
	}{
		{100, 0, "100"},
		{150, 2, "1.5"},
		{100000000, 8, "1"},
		{1, 8, "0.00000001"},
		{123456789, 8, "1.23456789"},
	}

	for _, tt := range tests {
		if got := FormatAmount(tt.amount, tt.decimals); got != tt.want {
			t.Errorf("FormatAmount(%d, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"1.5", 2, 150, false},
		{"100", 0, 100, false},
		{"0.00000001", 8, 1, false},
		{"1.999", 2, 199, false},
		{"", 2, 0, true},
		{"1a", 2, 0, true},
		{"99999999999999999999999", 0, 0, true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAmount(%q, %d) = %d, want %d", tt.in, tt.decimals, got, tt.want)
		}
	}
}
