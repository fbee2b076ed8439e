package gowin

import (
	"fmt"

	"github.com/OpenTraceLab/gowinprog/pkg/bitstream"
	"github.com/OpenTraceLab/gowinprog/pkg/spiflash"
	"github.com/OpenTraceLab/gowinprog/pkg/tap"
)

// spiTransport picks the SPI access path for the resolved variant: most
// parts bit-bang the flash pins through boundary scan, GW2A tunnels whole
// SPI frames through a dedicated opcode.
func (d *Device) spiTransport() spiflash.Transport {
	if d.variant.PassthroughSPI {
		return &passthroughSPI{d: d}
	}
	return &bscanSPI{d: d, pins: d.variant.Pins}
}

// bscanSPI drives the flash pins one half-cycle at a time. Each control byte
// write is an 8-bit DR shift plus six idle clocks to let the level settle.
type bscanSPI struct {
	d    *Device
	pins PinMap
}

func (s *bscanSPI) write(ctrl byte, sample bool) (byte, error) {
	wr := []byte{ctrl}
	var rd []byte
	if sample {
		rd = make([]byte, 1)
	}
	if err := s.d.port.ShiftDR(wr, rd, 8, tap.StateRunTestIdle); err != nil {
		return 0, err
	}
	if err := s.d.port.ToggleClock(6); err != nil {
		return 0, err
	}
	if sample {
		return rd[0], nil
	}
	return 0, nil
}

// idle is the control byte with CS asserted (low), SCK low and DI low. The
// mask bit stays set for the whole transaction and the DO bit marks the pin
// as an input.
func (s *bscanSPI) idle() byte {
	return s.pins.Mask | s.pins.DO
}

// clockByte shifts b out MSB first and returns the byte sampled on DO.
func (s *bscanSPI) clockByte(b byte, capture bool) (byte, error) {
	var r byte
	for bm := byte(0x80); bm != 0; bm >>= 1 {
		t := s.idle()
		if b&bm != 0 {
			t |= s.pins.DI
		}
		if _, err := s.write(t, false); err != nil {
			return 0, err
		}
		sampled, err := s.write(t|s.pins.SCK, capture)
		if err != nil {
			return 0, err
		}
		if capture && sampled&s.pins.DO != 0 {
			r |= bm
		}
	}
	return r, nil
}

// release parks CS high with SCK low, ready for the next transaction.
func (s *bscanSPI) release() error {
	_, err := s.write(s.idle()|s.pins.CS, false)
	return err
}

func (s *bscanSPI) Transfer(cmd byte, tx []byte, readLen int) ([]byte, error) {
	if _, err := s.write(s.idle(), false); err != nil {
		return nil, err
	}
	if err := s.d.port.Flush(); err != nil {
		return nil, err
	}

	if _, err := s.clockByte(cmd, false); err != nil {
		return nil, err
	}
	for _, b := range tx {
		if _, err := s.clockByte(b, false); err != nil {
			return nil, err
		}
	}
	var rx []byte
	if readLen > 0 {
		rx = make([]byte, readLen)
		for i := range rx {
			r, err := s.clockByte(0, true)
			if err != nil {
				return nil, err
			}
			rx[i] = r
		}
	}

	if err := s.release(); err != nil {
		return nil, err
	}
	return rx, s.d.port.Flush()
}

func (s *bscanSPI) WaitReady(cmd, mask, cond byte, timeout uint32, verbose bool) error {
	if _, err := s.write(s.idle(), false); err != nil {
		return err
	}
	if _, err := s.clockByte(cmd, false); err != nil {
		return err
	}

	var tmp byte
	for count := uint32(0); ; count++ {
		r, err := s.clockByte(0, true)
		if err != nil {
			return err
		}
		tmp = r
		if verbose {
			fmt.Printf("%x %x %x %d\n", tmp, mask, cond, count)
		}
		if tmp&mask == cond {
			break
		}
		if count == timeout {
			s.release()
			return fmt.Errorf("gowin: spi wait timeout (status %02x)", tmp)
		}
	}
	return s.release()
}

// passthroughSPI tunnels SPI frames through the 0x16 opcode on GW2A. The
// device shifts LSB first and returns data offset by one bit, so bytes are
// bit-reversed on the way out and reassembled from adjacent byte pairs on
// the way back.
type passthroughSPI struct {
	d *Device
}

// exchange shifts the frame and, when capture is set, returns the decoded
// response aligned with the frame bytes.
func (p *passthroughSPI) exchange(frame []byte, capture bool) ([]byte, error) {
	if err := p.d.sendCommand(opSPIPassthrough); err != nil {
		return nil, err
	}
	// The passthrough expects the shift entered through Exit2-DR, not
	// Capture-DR; going through capture would eat the first bit.
	if err := p.d.port.SetState(tap.StateExit2DR); err != nil {
		return nil, err
	}

	n := len(frame)
	shift := n
	if capture {
		shift = n + 1 // one spare byte for the one-bit response offset
	}
	jtx := make([]byte, shift)
	for i, b := range frame {
		jtx[i] = bitstream.ReverseByte(b)
	}
	var jrx []byte
	if capture {
		jrx = make([]byte, shift)
	}
	if err := p.d.port.ShiftDR(jtx, jrx, 8*shift, tap.StateRunTestIdle); err != nil {
		return nil, err
	}
	if !capture {
		return nil, nil
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = bitstream.ReverseByte(jrx[i]>>1) | (jrx[i+1] & 0x01)
	}
	return out, nil
}

func (p *passthroughSPI) Transfer(cmd byte, tx []byte, readLen int) ([]byte, error) {
	frame := make([]byte, 1+len(tx)+readLen)
	frame[0] = cmd
	copy(frame[1:], tx)

	rx, err := p.exchange(frame, readLen > 0)
	if err != nil {
		return nil, err
	}
	if readLen == 0 {
		return nil, nil
	}
	return rx[1+len(tx):], nil
}

func (p *passthroughSPI) WaitReady(cmd, mask, cond byte, timeout uint32, verbose bool) error {
	frame := []byte{cmd, 0}
	for count := uint32(0); ; count++ {
		rx, err := p.exchange(frame, true)
		if err != nil {
			return err
		}
		tmp := rx[1]
		if verbose {
			fmt.Printf("%x %x %x %d\n", tmp, mask, cond, count)
		}
		if tmp&mask == cond {
			return nil
		}
		if count == timeout {
			return fmt.Errorf("gowin: spi wait timeout (status %02x)", tmp)
		}
	}
}
