package jtag

import (
	"errors"
	"fmt"
)

// AdapterInfo describes capabilities reported by a JTAG adapter implementation.
type AdapterInfo struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	MinFrequency int // Hertz
	MaxFrequency int // Hertz
	SupportsSRST bool
	SupportsTRST bool
	Notes        string
}

// Adapter abstracts a physical or virtual JTAG Test Access Port adapter at the
// raw shift level: the caller supplies per-bit TMS and TDI and receives the
// captured TDO bits. TAP state bookkeeping lives above this interface, in Port.
type Adapter interface {
	Info() (AdapterInfo, error)
	ShiftIR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ShiftDR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ResetTAP(hard bool) error
	SetSpeed(hz int) error
}

// Flusher is implemented by adapters that queue operations and need an
// explicit push to the probe. Adapters without buffering simply do not
// implement it.
type Flusher interface {
	Flush() error
}

// ErrNotImplemented lets backends signal that a requested capability is not
// yet available without relying on fmt.Errorf each time.
var ErrNotImplemented = errors.New("jtag: not implemented")

// ValidateShiftBuffers ensures TMS/TDI are long enough for the requested bit
// count and returns the number of bytes required to accommodate it.
func ValidateShiftBuffers(tms, tdi []byte, bits int) (int, error) {
	if bits <= 0 {
		return 0, fmt.Errorf("jtag: bits must be positive, got %d", bits)
	}
	required := (bits + 7) / 8
	if len(tms) > 0 && len(tms) < required {
		return 0, fmt.Errorf("jtag: tms buffer too short, need %d bytes", required)
	}
	if len(tdi) > 0 && len(tdi) < required {
		return 0, fmt.Errorf("jtag: tdi buffer too short, need %d bytes", required)
	}
	return required, nil
}
