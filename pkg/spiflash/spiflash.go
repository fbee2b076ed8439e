// Package spiflash programs an external SPI NOR flash through whatever
// byte-level transport the FPGA driver can offer, typically a bit-banged SPI
// master tunneled over JTAG boundary scan. Sector/page geometry follows the
// common 64 KiB-sector, 256-byte-page parts (W25Q, N25Q, GD25Q families).
package spiflash

import (
	"bytes"
	"fmt"
)

// Transport is the byte-level SPI capability the device driver supplies.
// Transfer runs one chip-select bracketed transaction: the command byte, the
// optional write payload, then readLen clocked-out bytes which are returned.
// WaitReady polls a status-read transaction until (status & mask) == cond or
// the iteration bound is exceeded.
type Transport interface {
	Transfer(cmd byte, tx []byte, readLen int) ([]byte, error)
	WaitReady(cmd, mask, cond byte, timeout uint32, verbose bool) error
}

// SPI NOR command set
const (
	cmdResetEnable = 0x66
	cmdReset       = 0x99
	cmdReadID      = 0x9F
	cmdReadStatus  = 0x05
	cmdWriteStatus = 0x01
	cmdWriteEnable = 0x06
	cmdPageProgram = 0x02
	cmdRead        = 0x03
	cmdSectorErase = 0xD8
)

// Status register bits
const (
	statusBusy        = 0x01
	statusWriteEnable = 0x02
)

const (
	pageSize   = 256
	sectorSize = 64 * 1024

	programTimeout = 3_000
	eraseTimeout   = 100_000
)

// Flash drives one SPI NOR chip over a Transport.
type Flash struct {
	tr      Transport
	verbose bool
}

// New wires the algorithm to a transport.
func New(tr Transport, verbose bool) *Flash {
	return &Flash{tr: tr, verbose: verbose}
}

// Reset issues the enable-reset/reset pair, returning the chip to its
// power-on command state.
func (f *Flash) Reset() error {
	if _, err := f.tr.Transfer(cmdResetEnable, nil, 0); err != nil {
		return err
	}
	_, err := f.tr.Transfer(cmdReset, nil, 0)
	return err
}

// ReadID returns the 3-byte JEDEC identifier.
func (f *Flash) ReadID() ([3]byte, error) {
	var id [3]byte
	rx, err := f.tr.Transfer(cmdReadID, nil, 3)
	if err != nil {
		return id, err
	}
	copy(id[:], rx)
	if f.verbose {
		fmt.Printf("flash id: %02x %02x %02x\n", id[0], id[1], id[2])
	}
	return id, nil
}

// ReadStatus returns the first status register.
func (f *Flash) ReadStatus() (byte, error) {
	rx, err := f.tr.Transfer(cmdReadStatus, nil, 1)
	if err != nil {
		return 0, err
	}
	return rx[0], nil
}

// Unprotect clears the block-protection bits by zeroing the status register.
func (f *Flash) Unprotect() error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	if _, err := f.tr.Transfer(cmdWriteStatus, []byte{0x00}, 0); err != nil {
		return err
	}
	return f.tr.WaitReady(cmdReadStatus, statusBusy, 0, programTimeout, f.verbose)
}

// EraseAndProgram erases every sector covering [offset, offset+len(data)) and
// programs the data in 256-byte pages. offset must be sector aligned so the
// erase cannot clobber neighbouring content.
func (f *Flash) EraseAndProgram(offset uint32, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("spiflash: empty payload")
	}
	if offset%sectorSize != 0 {
		return fmt.Errorf("spiflash: offset 0x%X not aligned to %d-byte sectors", offset, sectorSize)
	}

	end := offset + uint32(len(data))
	for addr := offset; addr < end; addr += sectorSize {
		if err := f.sectorErase(addr); err != nil {
			return fmt.Errorf("spiflash: erase sector 0x%X: %w", addr, err)
		}
	}

	for off := 0; off < len(data); off += pageSize {
		chunk := data[off:min(off+pageSize, len(data))]
		if err := f.pageProgram(offset+uint32(off), chunk); err != nil {
			return fmt.Errorf("spiflash: program page 0x%X: %w", offset+uint32(off), err)
		}
	}
	return nil
}

// Verify reads the flash back in chunkSize pieces and compares against data.
func (f *Flash) Verify(offset uint32, data []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = pageSize
	}
	for off := 0; off < len(data); off += chunkSize {
		chunk := data[off:min(off+chunkSize, len(data))]
		got, err := f.read(offset+uint32(off), len(chunk))
		if err != nil {
			return err
		}
		if !bytes.Equal(got, chunk) {
			return fmt.Errorf("spiflash: mismatch at 0x%X", offset+uint32(off))
		}
	}
	return nil
}

func (f *Flash) writeEnable() error {
	if _, err := f.tr.Transfer(cmdWriteEnable, nil, 0); err != nil {
		return err
	}
	return f.tr.WaitReady(cmdReadStatus, statusWriteEnable, statusWriteEnable, programTimeout, f.verbose)
}

func (f *Flash) sectorErase(addr uint32) error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	if _, err := f.tr.Transfer(cmdSectorErase, addr24(addr), 0); err != nil {
		return err
	}
	return f.tr.WaitReady(cmdReadStatus, statusBusy, 0, eraseTimeout, f.verbose)
}

func (f *Flash) pageProgram(addr uint32, data []byte) error {
	if len(data) > pageSize {
		return fmt.Errorf("spiflash: page payload %d exceeds %d bytes", len(data), pageSize)
	}
	if err := f.writeEnable(); err != nil {
		return err
	}
	tx := append(addr24(addr), data...)
	if _, err := f.tr.Transfer(cmdPageProgram, tx, 0); err != nil {
		return err
	}
	return f.tr.WaitReady(cmdReadStatus, statusBusy, 0, programTimeout, f.verbose)
}

func (f *Flash) read(addr uint32, n int) ([]byte, error) {
	// The read command clocks out data right after the 24-bit address, so the
	// address bytes ride in the write payload and n bytes are captured after.
	rx, err := f.tr.Transfer(cmdRead, addr24(addr), n)
	if err != nil {
		return nil, err
	}
	return rx, nil
}

func addr24(addr uint32) []byte {
	return []byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
}
