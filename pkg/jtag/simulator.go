package jtag

import "fmt"

// ShiftRegion identifies whether a shift operation targets the instruction or
// data register path.
type ShiftRegion uint8

const (
	ShiftRegionIR ShiftRegion = iota
	ShiftRegionDR
)

// ShiftHook allows the simulator to emulate device-specific TDO behavior.
type ShiftHook func(region ShiftRegion, tms, tdi []byte, bits int) ([]byte, error)

// ShiftOp captures one shift invocation for inspection within tests.
type ShiftOp struct {
	Region ShiftRegion
	TMS    []byte
	TDI    []byte
	Bits   int
}

// SimAdapter is an in-memory adapter useful for unit tests. It records every
// shift request and can provide deterministic TDO data via OnShift.
type SimAdapter struct {
	InfoData AdapterInfo
	SpeedHz  int

	OnShift ShiftHook

	// RecordOps keeps the full operation log instead of only the last one.
	// Long clocking runs generate a lot of entries, so it is opt-in.
	RecordOps bool

	ops       []ShiftOp
	lastShift ShiftOp
	clocks    uint64
	resets    int
	hardReset int
	flushes   int
}

// NewSimAdapter constructs a simulator configured with the provided AdapterInfo.
func NewSimAdapter(info AdapterInfo) *SimAdapter {
	return &SimAdapter{InfoData: info, SpeedHz: 1_000_000}
}

// LastShift returns a copy of the most recent shift request.
func (s *SimAdapter) LastShift() ShiftOp {
	return copyOp(s.lastShift)
}

// Ops returns a copy of the recorded operation log (RecordOps must be set).
func (s *SimAdapter) Ops() []ShiftOp {
	out := make([]ShiftOp, len(s.ops))
	for i, op := range s.ops {
		out[i] = copyOp(op)
	}
	return out
}

// Clocks reports the total number of TCK cycles generated across all shifts.
func (s *SimAdapter) Clocks() uint64 {
	return s.clocks
}

// ResetCounts reports how many resets have been requested (soft as total,
// hardReset as subset).
func (s *SimAdapter) ResetCounts() (soft, hard int) {
	return s.resets, s.hardReset
}

// Flushes reports how many explicit flushes were requested.
func (s *SimAdapter) Flushes() int {
	return s.flushes
}

func (s *SimAdapter) Info() (AdapterInfo, error) {
	return s.InfoData, nil
}

func (s *SimAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionIR, tms, tdi, bits)
}

func (s *SimAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionDR, tms, tdi, bits)
}

func (s *SimAdapter) ResetTAP(hard bool) error {
	s.resets++
	if hard {
		s.hardReset++
	}
	return nil
}

func (s *SimAdapter) SetSpeed(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("jtag: invalid speed %dHz", hz)
	}
	s.SpeedHz = hz
	return nil
}

func (s *SimAdapter) Flush() error {
	s.flushes++
	return nil
}

func (s *SimAdapter) shift(region ShiftRegion, tms, tdi []byte, bits int) ([]byte, error) {
	if _, err := ValidateShiftBuffers(tms, tdi, bits); err != nil {
		return nil, err
	}

	s.lastShift = ShiftOp{Region: region, TMS: tms, TDI: tdi, Bits: bits}
	s.clocks += uint64(bits)
	if s.RecordOps {
		s.ops = append(s.ops, copyOp(s.lastShift))
	}

	if s.OnShift != nil {
		return s.OnShift(region, tms, tdi, bits)
	}

	// Default: echo TDI to TDO to keep tests predictable.
	required := (bits + 7) / 8
	tdo := make([]byte, required)
	copy(tdo, tdi)
	return tdo, nil
}

func copyOp(op ShiftOp) ShiftOp {
	return ShiftOp{
		Region: op.Region,
		TMS:    append([]byte(nil), op.TMS...),
		TDI:    append([]byte(nil), op.TDI...),
		Bits:   op.Bits,
	}
}
