package jtag

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// CMSIS-DAP command IDs
const (
	cmdInfo         = 0x00
	cmdConnect      = 0x02
	cmdDisconnect   = 0x03
	cmdResetTarget  = 0x0A
	cmdSWJClock     = 0x11
	cmdJTAGSequence = 0x14
)

// DAP_Info IDs
const (
	infoVendorID    = 0x01
	infoProductID   = 0x02
	infoSerialNum   = 0x03
	infoFirmwareVer = 0x04
)

const (
	portJTAG     = 2
	dapStatusOK  = 0x00
	seqTCKMask   = 0x3F // bits [5:0] = TCK count (0 means 64)
	seqTMSFlag   = 0x40 // bit [6] = TMS level for the whole sequence
	seqTDOFlag   = 0x80 // bit [7] = capture TDO
	maxSeqBits   = 64
)

// DAPTransport carries encoded CMSIS-DAP packets to the probe. USBTransport
// is the production implementation; tests supply an in-memory one.
type DAPTransport interface {
	WriteRead(cmd []byte) ([]byte, error)
	PacketSize() int
	Close() error
}

// dapSequence is one DAP_JTAG_Sequence entry: up to 64 TCK cycles with a
// constant TMS level.
type dapSequence struct {
	bits    int
	tms     bool
	capture bool
	tdi     []byte
}

func (s dapSequence) encodedLen() int {
	return 1 + (s.bits+7)/8
}

func (s dapSequence) info() byte {
	b := byte(s.bits & seqTCKMask) // 64 encodes as 0
	if s.tms {
		b |= seqTMSFlag
	}
	if s.capture {
		b |= seqTDOFlag
	}
	return b
}

// CMSISDAPAdapter implements Adapter for CMSIS-DAP probes.
type CMSISDAPAdapter struct {
	transport DAPTransport

	info      AdapterInfo
	speedHz   int
	connected bool

	mu sync.Mutex
}

// NewCMSISDAPAdapter opens the probe over USB, queries its identity and
// connects the JTAG port.
func NewCMSISDAPAdapter(vid, pid uint16) (*CMSISDAPAdapter, error) {
	transport, err := NewUSBTransport(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	return NewCMSISDAPAdapterWithTransport(transport)
}

// NewCMSISDAPAdapterWithTransport builds the adapter on a caller-provided
// transport. Used by tests and by alternative probe plumbing.
func NewCMSISDAPAdapterWithTransport(transport DAPTransport) (*CMSISDAPAdapter, error) {
	a := &CMSISDAPAdapter{
		transport: transport,
		speedHz:   1_000_000,
	}

	if err := a.queryInfo(); err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to query device info: %w", err)
	}
	if err := a.connect(); err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to connect to JTAG: %w", err)
	}
	if err := a.SetSpeed(a.speedHz); err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to set default speed: %w", err)
	}
	return a, nil
}

func (a *CMSISDAPAdapter) queryInfo() error {
	str := func(id byte) string {
		resp, err := a.transport.WriteRead([]byte{cmdInfo, id})
		if err != nil || len(resp) < 2 || resp[0] != cmdInfo {
			return ""
		}
		n := int(resp[1])
		if len(resp) < 2+n {
			return ""
		}
		return string(resp[2 : 2+n])
	}

	a.info = AdapterInfo{
		Name:         "CMSIS-DAP Probe",
		Vendor:       str(infoVendorID),
		Model:        str(infoProductID),
		SerialNumber: str(infoSerialNum),
		Firmware:     str(infoFirmwareVer),
		MinFrequency: 1000,
		MaxFrequency: 10_000_000,
		SupportsSRST: true,
		SupportsTRST: true,
	}
	return nil
}

func (a *CMSISDAPAdapter) connect() error {
	resp, err := a.transport.WriteRead([]byte{cmdConnect, portJTAG})
	if err != nil {
		return err
	}
	if len(resp) < 2 || resp[0] != cmdConnect {
		return fmt.Errorf("malformed connect response")
	}
	if resp[1] != portJTAG {
		return fmt.Errorf("failed to connect to JTAG (got port %d)", resp[1])
	}
	a.connected = true
	return nil
}

func (a *CMSISDAPAdapter) Info() (AdapterInfo, error) {
	return a.info, nil
}

func (a *CMSISDAPAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shiftRegister(tms, tdi, bits)
}

func (a *CMSISDAPAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shiftRegister(tms, tdi, bits)
}

// shiftRegister splits a per-bit TMS shift into DAP_JTAG_Sequence entries
// (constant TMS per entry, at most 64 TCK each), batches them into packets
// that fit the probe's packet size and reassembles the captured TDO stream.
func (a *CMSISDAPAdapter) shiftRegister(tms, tdi []byte, bits int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := ValidateShiftBuffers(tms, tdi, bits); err != nil {
		return nil, err
	}

	seqs := buildSequences(tms, tdi, bits)
	tdo := make([]byte, (bits+7)/8)

	bitPos := 0
	for len(seqs) > 0 {
		// Batch as many sequences as fit in one packet. Reserve two bytes for
		// the command header and one status byte in the response.
		batch := 0
		used := 2
		for batch < len(seqs) && batch < 255 {
			need := seqs[batch].encodedLen()
			if used+need > a.transport.PacketSize() {
				break
			}
			used += need
			batch++
		}
		if batch == 0 {
			return nil, fmt.Errorf("sequence does not fit probe packet size %d", a.transport.PacketSize())
		}

		cmd := make([]byte, 0, used)
		cmd = append(cmd, cmdJTAGSequence, byte(batch))
		for _, s := range seqs[:batch] {
			cmd = append(cmd, s.info())
			cmd = append(cmd, s.tdi...)
		}

		resp, err := a.transport.WriteRead(cmd)
		if err != nil {
			return nil, fmt.Errorf("shift failed: %w", err)
		}
		if len(resp) < 2 || resp[0] != cmdJTAGSequence {
			return nil, fmt.Errorf("malformed sequence response")
		}
		if resp[1] != dapStatusOK {
			return nil, fmt.Errorf("probe rejected sequence (status 0x%02X)", resp[1])
		}

		off := 2
		for _, s := range seqs[:batch] {
			n := (s.bits + 7) / 8
			if s.capture {
				if off+n > len(resp) {
					return nil, fmt.Errorf("truncated sequence response")
				}
				for i := 0; i < s.bits; i++ {
					setBit(tdo, bitPos+i, getBit(resp[off:off+n], i))
				}
				off += n
			}
			bitPos += s.bits
		}
		seqs = seqs[batch:]
	}

	return tdo, nil
}

// buildSequences walks the TMS pattern and emits a new sequence whenever the
// level changes or the 64-cycle entry limit is hit.
func buildSequences(tms, tdi []byte, bits int) []dapSequence {
	var seqs []dapSequence
	bitPos := 0
	for bitPos < bits {
		level := getBit(tms, bitPos)
		n := 0
		for bitPos+n < bits && n < maxSeqBits && getBit(tms, bitPos+n) == level {
			n++
		}

		chunk := make([]byte, (n+7)/8)
		for i := 0; i < n; i++ {
			setBit(chunk, i, getBit(tdi, bitPos+i))
		}

		seqs = append(seqs, dapSequence{bits: n, tms: level, capture: true, tdi: chunk})
		bitPos += n
	}
	return seqs
}

func (a *CMSISDAPAdapter) ResetTAP(hard bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hard {
		resp, err := a.transport.WriteRead([]byte{cmdResetTarget})
		if err != nil {
			return fmt.Errorf("hard reset failed: %w", err)
		}
		if len(resp) < 2 || resp[0] != cmdResetTarget || resp[1] != dapStatusOK {
			return fmt.Errorf("hard reset rejected")
		}
		return nil
	}

	// Soft reset: five TCK cycles with TMS high.
	seq := dapSequence{bits: 5, tms: true, tdi: []byte{0x00}}
	cmd := append([]byte{cmdJTAGSequence, 1, seq.info()}, seq.tdi...)
	resp, err := a.transport.WriteRead(cmd)
	if err != nil {
		return fmt.Errorf("TAP reset failed: %w", err)
	}
	if len(resp) < 2 || resp[1] != dapStatusOK {
		return fmt.Errorf("TAP reset rejected")
	}
	return nil
}

func (a *CMSISDAPAdapter) SetSpeed(hz int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hz < a.info.MinFrequency || hz > a.info.MaxFrequency {
		return fmt.Errorf("frequency %d Hz out of range [%d, %d]",
			hz, a.info.MinFrequency, a.info.MaxFrequency)
	}

	cmd := make([]byte, 5)
	cmd[0] = cmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], uint32(hz))
	resp, err := a.transport.WriteRead(cmd)
	if err != nil {
		return fmt.Errorf("set speed failed: %w", err)
	}
	if len(resp) < 2 || resp[0] != cmdSWJClock || resp[1] != dapStatusOK {
		return fmt.Errorf("set speed rejected")
	}

	a.speedHz = hz
	return nil
}

// Close disconnects and releases the transport.
func (a *CMSISDAPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		a.transport.WriteRead([]byte{cmdDisconnect})
		a.connected = false
	}
	return a.transport.Close()
}
