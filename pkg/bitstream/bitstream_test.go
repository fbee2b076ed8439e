package bitstream

import (
	"strings"
	"testing"
)

func TestFSParsesHeaderAndPacksBits(t *testing.T) {
	src := strings.Join([]string{
		"//Part Number: GW1N-LV1QN48C6/I5",
		"//IDCODE: 0x0900281B",
		"//CheckSum: 0x1234",
		"1000000001111111",
		"0000000011111111",
	}, "\n")

	fs := NewFS(strings.NewReader(src))
	if err := fs.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	want := []byte{0x80, 0x7F, 0x00, 0xFF}
	got := fs.Data()
	if len(got) != len(want) {
		t.Fatalf("data length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("data[%d] = 0x%02X, want 0x%02X", i, got[i], want[i])
		}
	}
	if fs.BitLength() != 32 {
		t.Fatalf("BitLength = %d, want 32", fs.BitLength())
	}

	wantSum := uint16(0x80) + 0x7F + 0x00 + 0xFF
	if fs.Checksum() != wantSum {
		t.Fatalf("Checksum = 0x%04X, want 0x%04X", fs.Checksum(), wantSum)
	}

	id, err := fs.HeaderValue("idcode")
	if err != nil {
		t.Fatalf("HeaderValue(idcode): %v", err)
	}
	if id != "0x0900281B" {
		t.Fatalf("idcode = %q, want 0x0900281B", id)
	}
	if _, err := fs.HeaderValue("loadingRate"); err == nil {
		t.Fatal("expected error for absent header field")
	}
}

func TestFSRejectsMalformedRows(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "non-binary character", src: "01012010"},
		{name: "not byte aligned", src: "0101"},
		{name: "header only", src: "//IDCODE: 0x0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := NewFS(strings.NewReader(tt.src))
			if err := fs.Parse(); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestRawImageHasNoHeaderOrChecksum(t *testing.T) {
	raw := NewRaw([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	if err := raw.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if raw.BitLength() != 32 {
		t.Fatalf("BitLength = %d, want 32", raw.BitLength())
	}
	if raw.Checksum() != 0 {
		t.Fatalf("Checksum = %d, want 0", raw.Checksum())
	}
	if _, err := raw.HeaderValue("idcode"); err == nil {
		t.Fatal("expected error for headerless format")
	}
}

func TestHexFlattensSegmentsWithErasedFill(t *testing.T) {
	// Two records: 4 bytes at 0x0000, 2 bytes at 0x0008; gap must read 0xFF.
	hex := NewHex(strings.NewReader(strings.Join([]string{
		":040000001122334452",
		":02000800AABB91",
		":00000001FF",
	}, "\n")))
	if err := hex.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	want := []byte{0x11, 0x22, 0x33, 0x44, 0xFF, 0xFF, 0xFF, 0xFF, 0xAA, 0xBB}
	got := hex.Data()
	if len(got) != len(want) {
		t.Fatalf("data length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("data[%d] = 0x%02X, want 0x%02X", i, got[i], want[i])
		}
	}
}

func TestReverseByte(t *testing.T) {
	tests := []struct {
		in, want byte
	}{
		{0x00, 0x00},
		{0xFF, 0xFF},
		{0x80, 0x01},
		{0x01, 0x80},
		{0xA5, 0xA5},
		{0x16, 0x68},
	}
	for _, tt := range tests {
		if got := ReverseByte(tt.in); got != tt.want {
			t.Errorf("ReverseByte(0x%02X) = 0x%02X, want 0x%02X", tt.in, got, tt.want)
		}
	}
	for b := 0; b < 256; b++ {
		if ReverseByte(ReverseByte(byte(b))) != byte(b) {
			t.Fatalf("reversal not idempotent for 0x%02X", b)
		}
	}
}
