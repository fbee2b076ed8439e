// Package bitstream loads FPGA configuration images: the Gowin .fs text
// format, raw binaries for external flash, and Intel HEX firmware images.
// Device drivers consume the Image interface and stay ignorant of the
// container format.
package bitstream

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Image is a parsed configuration image. Data is read-only for consumers;
// drivers must copy before mutating.
type Image interface {
	// Parse reads and validates the input. It must be called before any other
	// method.
	Parse() error
	// Data returns the packed configuration bytes.
	Data() []byte
	// BitLength returns the image length in bits.
	BitLength() int
	// Checksum returns the 16-bit checksum over the image data. Formats
	// without a checksum notion return 0.
	Checksum() uint16
	// HeaderValue returns a named header field. Lookup is case-insensitive;
	// an error is returned when the field is absent.
	HeaderValue(name string) (string, error)
}

// Load opens the file and picks the Image implementation from its extension:
// .fs for the Gowin text format, .hex/.ihx for Intel HEX, anything else as a
// raw binary.
func Load(path string) (Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fs":
		return NewFSFile(path), nil
	case ".hex", ".ihx":
		return NewHexFile(path), nil
	default:
		return NewRawFile(path), nil
	}
}

// ReverseByte returns b with its bit order reversed. The GW2A SPI passthrough
// shifts LSB-first, so every byte crossing that path goes through here.
func ReverseByte(b byte) byte {
	b = (b&0xF0)>>4 | (b&0x0F)<<4
	b = (b&0xCC)>>2 | (b&0x33)<<2
	b = (b&0xAA)>>1 | (b&0x55)<<1
	return b
}

var errNoHeader = fmt.Errorf("bitstream: format carries no header")

// HasHeader reports whether the image format carries named header fields at
// all, as opposed to a particular field being absent.
func HasHeader(img Image) bool {
	_, err := img.HeaderValue("idcode")
	return !errors.Is(err, errNoHeader)
}

// headerMap implements case-insensitive header lookup shared by the formats.
type headerMap map[string]string

func (h headerMap) set(key, value string) {
	h[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
}

func (h headerMap) get(name string) (string, error) {
	if v, ok := h[strings.ToLower(name)]; ok {
		return v, nil
	}
	return "", fmt.Errorf("bitstream: header field %q not present", name)
}
