package jtag

import (
	"fmt"

	"github.com/OpenTraceLab/gowinprog/pkg/tap"
)

// Port is the device-facing view of a JTAG transport: register shifts with
// TAP state bookkeeping, raw TCK generation, and clock frequency control.
// Device drivers depend on this interface only; the adapter underneath may be
// real hardware or the simulator.
type Port interface {
	// ShiftIR shifts bits through the instruction register and returns to
	// Run-Test/Idle. tdo may be nil when capture is not needed.
	ShiftIR(tdi, tdo []byte, bits int) error
	// ShiftDR shifts bits through the data register and leaves the TAP in
	// end. Passing tap.StateShiftDR keeps the shift open so a later call can
	// continue it without re-entering Capture-DR.
	ShiftDR(tdi, tdo []byte, bits int, end tap.State) error
	// SetState moves the TAP to the requested state without shifting data.
	SetState(s tap.State) error
	// State reports the TAP state the port believes the hardware is in.
	State() tap.State
	// ToggleClock generates TCK cycles while parked in the current stable
	// state. This is active clocking, not a sleep; sequences documented as
	// needing clock edges must use it.
	ToggleClock(cycles uint64) error
	SetFrequency(hz int) error
	Frequency() int
	// Flush pushes any queued operations out to the probe.
	Flush() error
}

// Controller implements Port on top of a raw Adapter by tracking the TAP
// state machine locally and translating high-level operations into per-bit
// TMS/TDI patterns.
type Controller struct {
	adapter Adapter
	machine *tap.StateMachine
	freqHz  int
}

// NewController wraps an adapter, applies the initial TCK frequency and
// forces the TAP into Test-Logic-Reset so the tracked state is authoritative.
func NewController(adapter Adapter, freqHz int) (*Controller, error) {
	c := &Controller{
		adapter: adapter,
		machine: tap.NewStateMachine(),
		freqHz:  freqHz,
	}
	if freqHz > 0 {
		if err := adapter.SetSpeed(freqHz); err != nil {
			return nil, fmt.Errorf("jtag: set initial frequency: %w", err)
		}
	}
	if err := c.SetState(tap.StateTestLogicReset); err != nil {
		return nil, err
	}
	return c, nil
}

// Adapter exposes the wrapped adapter, mainly for Info queries.
func (c *Controller) Adapter() Adapter {
	return c.adapter
}

func (c *Controller) State() tap.State {
	return c.machine.State()
}

func (c *Controller) ShiftIR(tdi, tdo []byte, bits int) error {
	return c.shift(ShiftRegionIR, tdi, tdo, bits, tap.StateRunTestIdle)
}

func (c *Controller) ShiftDR(tdi, tdo []byte, bits int, end tap.State) error {
	return c.shift(ShiftRegionDR, tdi, tdo, bits, end)
}

func (c *Controller) SetState(s tap.State) error {
	var seq tap.Sequence
	if s == tap.StateTestLogicReset {
		// Five TMS=1 cycles reach Test-Logic-Reset from anywhere, even when
		// the tracked state has drifted from the hardware.
		seq = c.machine.Reset()
	} else {
		var err error
		seq, err = c.machine.GoTo(s)
		if err != nil {
			return err
		}
	}
	if len(seq.TMS) == 0 {
		return nil
	}
	tms := packBits(seq.TMS)
	_, err := c.adapter.ShiftDR(tms, make([]byte, len(tms)), len(seq.TMS))
	return err
}

func (c *Controller) ToggleClock(cycles uint64) error {
	if cycles == 0 {
		return nil
	}
	level, ok := tap.HoldTMS(c.machine.State())
	if !ok {
		return fmt.Errorf("jtag: cannot toggle clock in transient state %s", c.machine.State())
	}
	fill := byte(0x00)
	if level {
		fill = 0xFF
	}

	// Bound per-call buffer size; long settle waits can ask for hundreds of
	// thousands of cycles.
	const chunkBits = 65536
	for cycles > 0 {
		n := cycles
		if n > chunkBits {
			n = chunkBits
		}
		bytes := (int(n) + 7) / 8
		tms := make([]byte, bytes)
		for i := range tms {
			tms[i] = fill
		}
		if _, err := c.adapter.ShiftDR(tms, make([]byte, bytes), int(n)); err != nil {
			return err
		}
		cycles -= n
	}
	return nil
}

func (c *Controller) SetFrequency(hz int) error {
	if err := c.adapter.SetSpeed(hz); err != nil {
		return err
	}
	c.freqHz = hz
	return nil
}

func (c *Controller) Frequency() int {
	return c.freqHz
}

func (c *Controller) Flush() error {
	if f, ok := c.adapter.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// shift performs one register access as a single adapter round-trip: the TMS
// preamble that walks into the shift state, the data bits themselves, and the
// TMS epilogue that walks out to end. Captured TDO bits are extracted at the
// preamble offset so callers see only their own data.
func (c *Controller) shift(region ShiftRegion, tdi, tdo []byte, bits int, end tap.State) error {
	if bits <= 0 {
		return fmt.Errorf("jtag: bits must be positive, got %d", bits)
	}

	shiftState := tap.StateShiftDR
	exitState := tap.StateExit1DR
	if region == ShiftRegionIR {
		shiftState = tap.StateShiftIR
		exitState = tap.StateExit1IR
	}

	prefix, err := c.machine.GoTo(shiftState)
	if err != nil {
		return err
	}

	continuing := end == shiftState
	var suffix tap.Sequence
	if !continuing {
		// The final data bit is clocked with TMS=1, landing in Exit1.
		c.machine.Force(exitState)
		suffix, err = c.machine.GoTo(end)
		if err != nil {
			return err
		}
	}

	total := len(prefix.TMS) + bits + len(suffix.TMS)
	totalBytes := (total + 7) / 8
	tms := make([]byte, totalBytes)
	data := make([]byte, totalBytes)

	pos := 0
	for _, b := range prefix.TMS {
		setBit(tms, pos, b)
		pos++
	}
	dataStart := pos
	for i := 0; i < bits; i++ {
		if len(tdi) > 0 && getBit(tdi, i) {
			setBit(data, pos, true)
		}
		if !continuing && i == bits-1 {
			setBit(tms, pos, true)
		}
		pos++
	}
	for _, b := range suffix.TMS {
		setBit(tms, pos, b)
		pos++
	}

	var captured []byte
	if region == ShiftRegionIR {
		captured, err = c.adapter.ShiftIR(tms, data, total)
	} else {
		captured, err = c.adapter.ShiftDR(tms, data, total)
	}
	if err != nil {
		return err
	}

	if tdo != nil {
		for i := 0; i < bits; i++ {
			setBit(tdo, i, getBit(captured, dataStart+i))
		}
	}
	return nil
}

func packBits(bits []bool) []byte {
	buf := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			buf[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return buf
}

func getBit(buf []byte, i int) bool {
	if i/8 >= len(buf) {
		return false
	}
	return buf[i/8]&(1<<(uint(i)%8)) != 0
}

func setBit(buf []byte, i int, v bool) {
	if !v || i/8 >= len(buf) {
		return
	}
	buf[i/8] |= 1 << (uint(i) % 8)
}
