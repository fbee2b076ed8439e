// Package gowin drives Gowin LittleBee and Arora FPGAs over JTAG: SRAM
// configuration, internal flash programming and external SPI flash
// programming through the device, with the per-family quirks resolved from
// the IDCODE.
package gowin

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/OpenTraceLab/gowinprog/pkg/bitstream"
	"github.com/OpenTraceLab/gowinprog/pkg/jtag"
	"github.com/OpenTraceLab/gowinprog/pkg/spiflash"
	"github.com/OpenTraceLab/gowinprog/pkg/tap"
)

// Mode selects the programming target.
type Mode int

const (
	// ModeSRAM loads the bitstream into configuration SRAM, lost at power-off.
	ModeSRAM Mode = iota
	// ModeFlash programs the bitstream into flash, internal or external.
	ModeFlash
)

// pollBound caps status-register polling loops. Each iteration is a full
// 32-bit register read, so hitting the bound means the device is wedged, not
// slow.
const pollBound = 100_000_000

// Config carries the programming parameters for New.
type Config struct {
	// Bitstream is the configuration image. It may be nil for operations that
	// only inspect the device.
	Bitstream bitstream.Image
	// MCUFirmware is an optional companion firmware image placed behind the
	// bitstream in internal flash. Only GW1NSR-4C accepts one.
	MCUFirmware bitstream.Image
	Mode        Mode
	// ExternalFlash targets the SPI flash chip behind the FPGA instead of the
	// internal flash. Forced on for families without internal flash.
	ExternalFlash bool
	Verify        bool
	Verbose       bool
}

// flashAlgorithm is the surface the sequencer drives on an external SPI
// flash; satisfied by *spiflash.Flash.
type flashAlgorithm interface {
	Reset() error
	ReadID() ([3]byte, error)
	ReadStatus() (byte, error)
	Unprotect() error
	EraseAndProgram(offset uint32, data []byte) error
	Verify(offset uint32, data []byte, chunkSize int) error
}

// Device is one Gowin FPGA on a JTAG port.
type Device struct {
	port    jtag.Port
	variant Variant
	mode    Mode
	fs      bitstream.Image
	mcufw   bitstream.Image

	external bool
	verify   bool
	verbose  bool

	idcode uint32

	// Replaced in tests to keep polling loops and settle waits fast.
	pollLimit int
	sleep     func(time.Duration)
	newFlash  func(tr spiflash.Transport, verbose bool) flashAlgorithm
}

// New probes the device on port, resolves its variant and validates the
// requested operation against it. Configuration problems (unsupported
// flash write, firmware on the wrong part, image/device mismatch) are
// rejected here, before any programming traffic.
func New(port jtag.Port, cfg Config) (*Device, error) {
	d := &Device{
		port:      port,
		mode:      cfg.Mode,
		fs:        cfg.Bitstream,
		mcufw:     cfg.MCUFirmware,
		external:  cfg.ExternalFlash,
		verify:    cfg.Verify,
		verbose:   cfg.Verbose,
		pollLimit: pollBound,
		sleep:     time.Sleep,
		newFlash: func(tr spiflash.Transport, verbose bool) flashAlgorithm {
			return spiflash.New(tr, verbose)
		},
	}

	idcode, err := d.IDCode()
	if err != nil {
		return nil, fmt.Errorf("gowin: read idcode: %w", err)
	}
	if idcode == 0 || idcode == 0xFFFFFFFF {
		return nil, fmt.Errorf("gowin: no device detected (idcode %08x)", idcode)
	}
	d.idcode = idcode
	d.variant = ResolveVariant(idcode)
	if d.variant.ExternalFlashOnly {
		d.external = true
	}

	if cfg.Mode == ModeFlash && !d.variant.FlashWriteSupported {
		return nil, fmt.Errorf("gowin: flash write is not supported on %s", d.variant.Name)
	}

	if d.fs != nil {
		if err := d.fs.Parse(); err != nil {
			return nil, fmt.Errorf("gowin: parse bitstream: %w", err)
		}
		if bitstream.HasHeader(d.fs) {
			if err := d.checkImageIDCode(); err != nil {
				return nil, err
			}
		} else if cfg.Mode == ModeFlash && !d.external {
			return nil, fmt.Errorf("gowin: raw images can only target external flash")
		}
	}

	if d.mcufw != nil {
		if !d.variant.MCUFirmwareAllowed {
			return nil, fmt.Errorf("gowin: MCU firmware is only supported on GW1NSR-4C, not %s (idcode %08x)",
				d.variant.Name, idcode)
		}
		if err := d.mcufw.Parse(); err != nil {
			return nil, fmt.Errorf("gowin: parse MCU firmware: %w", err)
		}
	}
	return d, nil
}

// Variant returns the resolved family behavior.
func (d *Device) Variant() Variant {
	return d.variant
}

// checkImageIDCode compares the image's idcode header field against the
// probed device. The version nibble is masked out; image headers record it
// as zero.
func (d *Device) checkImageIDCode() error {
	field, err := d.fs.HeaderValue("idcode")
	if err != nil {
		return nil // header present but no idcode field, accept
	}
	var want uint32
	if _, err := fmt.Sscanf(field, "0x%x", &want); err != nil {
		if _, err := fmt.Sscanf(field, "%x", &want); err != nil {
			return fmt.Errorf("gowin: malformed idcode header %q", field)
		}
	}
	if want != d.idcode&0x0FFFFFFF {
		return fmt.Errorf("gowin: bitstream built for idcode %08x but device reports %08x",
			want, d.idcode)
	}
	return nil
}

// sendCommand shifts an 8-bit opcode through the instruction register and
// gives the device five idle clocks to latch it.
func (d *Device) sendCommand(op byte) error {
	if err := d.port.ShiftIR([]byte{op}, nil, 8); err != nil {
		return err
	}
	return d.port.ToggleClock(5)
}

func (d *Device) sendCommands(ops ...byte) error {
	for _, op := range ops {
		if err := d.sendCommand(op); err != nil {
			return err
		}
	}
	return nil
}

// readReg32 issues op and shifts back the 32-bit register, LSB first. All-ones
// are shifted in so an unresponsive device reads as 0xFFFFFFFF.
func (d *Device) readReg32(op byte) (uint32, error) {
	if err := d.sendCommand(op); err != nil {
		return 0, err
	}
	tx := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	rx := make([]byte, 4)
	if err := d.port.ShiftDR(tx, rx, 32, tap.StateRunTestIdle); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(rx), nil
}

// IDCode reads the identification register.
func (d *Device) IDCode() (uint32, error) {
	return d.readReg32(opReadIDCode)
}

// ReadStatusReg reads the configuration status register.
func (d *Device) ReadStatusReg() (uint32, error) {
	return d.readReg32(opStatusRegister)
}

// ReadUserCode reads the user code register, which carries the bitstream
// checksum after a successful load.
func (d *Device) ReadUserCode() (uint32, error) {
	return d.readReg32(opReadUserCode)
}

// sendClkUs runs TCK for us microseconds worth of cycles at the current
// frequency. The wait is clocked, not slept; the device needs the edges.
func (d *Device) sendClkUs(us uint64) error {
	cycles := uint64(d.port.Frequency()) * us / 1_000_000
	return d.port.ToggleClock(cycles)
}

// pollFlag reads the status register until (status & mask) == value. The
// iteration bound turns a wedged device into an error instead of a hang.
func (d *Device) pollFlag(mask, value uint32) error {
	for i := 0; i < d.pollLimit; i++ {
		status, err := d.ReadStatusReg()
		if err != nil {
			return err
		}
		if status&mask == value {
			return nil
		}
	}
	status, _ := d.ReadStatusReg()
	return fmt.Errorf("gowin: timeout waiting for status mask %05x == %05x (status %08x)",
		mask, value, status)
}

// enableCfg puts the device into system edit mode.
func (d *Device) enableCfg() error {
	if err := d.sendCommand(opConfigEnable); err != nil {
		return err
	}
	return d.pollFlag(StatusSystemEditMode, StatusSystemEditMode)
}

// disableCfg leaves system edit mode.
func (d *Device) disableCfg() error {
	if err := d.sendCommands(opConfigDisable, opNoop); err != nil {
		return err
	}
	return d.pollFlag(StatusSystemEditMode, 0)
}

// Reset reloads the device configuration, the same effect as toggling the
// RECONFIG pin.
func (d *Device) Reset() error {
	return d.sendCommands(opReload, opNoop)
}

// ConnectMCUJTAG hands the JTAG chain over to the embedded MCU core. The
// FPGA fabric stops answering until the next power cycle.
func (d *Device) ConnectMCUJTAG() error {
	return d.sendCommand(opSwitchMCUJTAG)
}
