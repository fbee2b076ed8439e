package bitstream

import (
	"fmt"
	"io"
	"os"

	"github.com/marcinbor85/gohex"
)

// Raw wraps an opaque binary image. No header, no checksum; used for
// external-flash payloads and pre-packed firmware blobs.
type Raw struct {
	path string
	r    io.Reader

	data []byte
}

// NewRawFile constructs a Raw image reading from the given file path.
func NewRawFile(path string) *Raw {
	return &Raw{path: path}
}

// NewRaw constructs a Raw image over the provided bytes.
func NewRaw(data []byte) *Raw {
	return &Raw{data: data}
}

func (r *Raw) Parse() error {
	if r.data != nil {
		return nil
	}
	var (
		buf []byte
		err error
	)
	if r.r != nil {
		buf, err = io.ReadAll(r.r)
	} else {
		buf, err = os.ReadFile(r.path)
	}
	if err != nil {
		return fmt.Errorf("bitstream: %w", err)
	}
	if len(buf) == 0 {
		return fmt.Errorf("bitstream: empty image")
	}
	r.data = buf
	return nil
}

func (r *Raw) Data() []byte {
	return r.data
}

func (r *Raw) BitLength() int {
	return len(r.data) * 8
}

func (r *Raw) Checksum() uint16 {
	return 0
}

func (r *Raw) HeaderValue(string) (string, error) {
	return "", errNoHeader
}

// Hex loads an Intel HEX image and flattens its segments into one contiguous
// buffer starting at the lowest address, filling gaps with 0xFF to match
// erased flash.
type Hex struct {
	path string
	r    io.Reader

	data []byte
}

// NewHexFile constructs a Hex image reading from the given file path.
func NewHexFile(path string) *Hex {
	return &Hex{path: path}
}

// NewHex constructs a Hex image reading from r.
func NewHex(r io.Reader) *Hex {
	return &Hex{r: r}
}

func (h *Hex) Parse() error {
	r := h.r
	if r == nil {
		file, err := os.Open(h.path)
		if err != nil {
			return fmt.Errorf("bitstream: %w", err)
		}
		defer file.Close()
		r = file
	}

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return fmt.Errorf("bitstream: parse Intel HEX: %w", err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return fmt.Errorf("bitstream: Intel HEX image holds no data")
	}

	base := segments[0].Address
	end := base
	for _, seg := range segments {
		if seg.Address < base {
			base = seg.Address
		}
		if top := seg.Address + uint32(len(seg.Data)); top > end {
			end = top
		}
	}

	h.data = make([]byte, end-base)
	for i := range h.data {
		h.data[i] = 0xFF
	}
	for _, seg := range segments {
		copy(h.data[seg.Address-base:], seg.Data)
	}
	return nil
}

func (h *Hex) Data() []byte {
	return h.data
}

func (h *Hex) BitLength() int {
	return len(h.data) * 8
}

func (h *Hex) Checksum() uint16 {
	return 0
}

func (h *Hex) HeaderValue(string) (string, error) {
	return "", errNoHeader
}
