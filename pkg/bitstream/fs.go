package bitstream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// FS parses the Gowin .fs text format: `//Key: Value` header comment lines
// followed by rows of 0/1 characters, one configuration frame per row, packed
// MSB-first.
type FS struct {
	path   string
	r      io.Reader
	header headerMap

	data     []byte
	bitLen   int
	checksum uint16
	parsed   bool
}

// NewFSFile constructs an FS image reading from the given file path.
func NewFSFile(path string) *FS {
	return &FS{path: path, header: headerMap{}}
}

// NewFS constructs an FS image reading from r. Used by tests and callers that
// already hold the stream.
func NewFS(r io.Reader) *FS {
	return &FS{r: r, header: headerMap{}}
}

func (f *FS) Parse() error {
	r := f.r
	if r == nil {
		file, err := os.Open(f.path)
		if err != nil {
			return fmt.Errorf("bitstream: %w", err)
		}
		defer file.Close()
		r = file
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	var bits []byte
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "//") {
			if key, value, ok := strings.Cut(strings.TrimPrefix(line, "//"), ":"); ok {
				f.header.set(key, value)
			}
			continue
		}
		for _, c := range line {
			switch c {
			case '0':
				bits = append(bits, 0)
			case '1':
				bits = append(bits, 1)
			default:
				return fmt.Errorf("bitstream: unexpected character %q in data row", c)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("bitstream: %w", err)
	}
	if len(bits)%8 != 0 {
		return fmt.Errorf("bitstream: data length %d bits is not byte aligned", len(bits))
	}
	if len(bits) == 0 {
		return fmt.Errorf("bitstream: no configuration data rows")
	}

	f.data = make([]byte, len(bits)/8)
	for i, b := range bits {
		if b != 0 {
			f.data[i/8] |= 0x80 >> (uint(i) % 8)
		}
	}
	f.bitLen = len(bits)

	var sum uint16
	for _, b := range f.data {
		sum += uint16(b)
	}
	f.checksum = sum
	f.parsed = true
	return nil
}

func (f *FS) Data() []byte {
	return f.data
}

func (f *FS) BitLength() int {
	return f.bitLen
}

func (f *FS) Checksum() uint16 {
	return f.checksum
}

func (f *FS) HeaderValue(name string) (string, error) {
	return f.header.get(name)
}
