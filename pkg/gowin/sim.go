package gowin

import (
	"github.com/OpenTraceLab/gowinprog/pkg/jtag"
	"github.com/OpenTraceLab/gowinprog/pkg/tap"
)

// Simulator emulates a single Gowin TAP behind a jtag.SimAdapter. It walks
// the state machine bit by bit, latches instructions on Update-IR and
// answers register reads with status bits that follow the opcode side
// effects, enough to run the full programming sequences offline.
type Simulator struct {
	idcode uint32

	state   tap.State
	irShift []bool
	ir      byte

	drValue uint32
	drIn    uint32
	drPos   int

	editMode   bool
	memErase   bool
	done       bool
	vld        bool
	por        bool
	programmed bool
	usercode   uint32
}

// NewSimulator models a device reporting the given IDCODE, fresh out of
// power-on reset.
func NewSimulator(idcode uint32) *Simulator {
	return &Simulator{
		idcode: idcode,
		state:  tap.StateTestLogicReset,
		por:    true,
	}
}

// DoneFinal reports whether the simulated device considers itself
// configured.
func (s *Simulator) DoneFinal() bool { return s.done }

// Hook returns the shift hook to install as jtag.SimAdapter.OnShift.
func (s *Simulator) Hook() jtag.ShiftHook {
	return func(region jtag.ShiftRegion, tms, tdi []byte, bits int) ([]byte, error) {
		tdo := make([]byte, (bits+7)/8)
		for i := 0; i < bits; i++ {
			switch s.state {
			case tap.StateShiftIR:
				s.irShift = append(s.irShift, bitAt(tdi, i))
			case tap.StateShiftDR:
				if s.drPos < 32 {
					if s.drValue&(1<<uint(s.drPos)) != 0 {
						tdo[i/8] |= 1 << (uint(i) % 8)
					}
					if bitAt(tdi, i) {
						s.drIn |= 1 << uint(s.drPos)
					}
				}
				s.drPos++
			}
			next := tap.NextState(s.state, bitAt(tms, i))
			if next != s.state {
				s.enter(next)
			}
			s.state = next
		}
		return tdo, nil
	}
}

func (s *Simulator) enter(next tap.State) {
	switch next {
	case tap.StateCaptureIR:
		s.irShift = s.irShift[:0]
	case tap.StateCaptureDR:
		s.drValue = s.register()
		s.drIn = 0
		s.drPos = 0
	case tap.StateUpdateIR:
		s.latchIR()
	case tap.StateUpdateDR:
		// The SRAM load checksum lands in the user code register.
		if s.ir == opChecksumFrame {
			s.usercode = s.drIn
		}
	}
}

func (s *Simulator) latchIR() {
	var op byte
	for i := 0; i < 8 && i < len(s.irShift); i++ {
		if s.irShift[i] {
			op |= 1 << uint(i)
		}
	}
	s.ir = op
	switch op {
	case opConfigEnable:
		s.editMode = true
	case opConfigDisable:
		s.editMode = false
	case opEraseSRAM:
		s.memErase = true
		s.done = false
		s.vld = false
	case opChecksumClose:
		s.done = true
		s.vld = true
	case opEFlashErase:
		s.done = false
		s.programmed = false
	case opEFProgram:
		s.programmed = true
	case opReload:
		if s.programmed {
			s.done = true
		}
	}
}

func (s *Simulator) register() uint32 {
	switch s.ir {
	case opReadIDCode:
		return s.idcode
	case opReadUserCode:
		return s.usercode
	case opStatusRegister:
		var st uint32
		if s.editMode {
			st |= StatusSystemEditMode
		}
		if s.memErase {
			st |= StatusMemoryErase
		}
		if s.done {
			st |= StatusDoneFinal
		}
		if s.vld {
			st |= StatusVLD
		}
		if s.por {
			st |= StatusPOR
		}
		return st
	}
	return 0
}

func bitAt(buf []byte, i int) bool {
	if i/8 >= len(buf) {
		return false
	}
	return buf[i/8]&(1<<(uint(i)%8)) != 0
}
