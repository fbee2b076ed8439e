package gowin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/OpenTraceLab/gowinprog/pkg/tap"
)

// outcome is the result of one programming step. Advisory failures are
// reported but do not stop the enclosing sequence; fatal ones do.
type outcome int

const (
	stepOK outcome = iota
	stepAdvisory
	stepFatal
)

// sramChunkBits is the largest single DR shift during SRAM load, about 0.2s
// of bitstream at 2.5 MHz.
const sramChunkBits = 0x80000

// flash geometry: 256-byte pages addressed in 32-bit words.
const (
	flashPageBytes = 256
	flashPageWords = flashPageBytes / 4
	// mcuFirmwarePage is the word address where GW1NSR-4C expects the
	// companion MCU firmware, right behind the bitstream area.
	mcuFirmwarePage = 0x380
)

// autobootSig marks page 0 so the device boots from internal flash.
var autobootSig = [4]byte{'G', 'W', '1', 'N'}

// Program writes the configured image to the target selected at New time.
// offset and unprotect only apply to external flash.
func (d *Device) Program(offset uint32, unprotect bool) error {
	if d.fs == nil {
		return fmt.Errorf("gowin: no bitstream loaded")
	}
	switch d.mode {
	case ModeFlash:
		if d.external {
			return d.programExtFlash(offset, unprotect)
		}
		return d.programFlash()
	case ModeSRAM:
		return d.programSRAM()
	}
	return fmt.Errorf("gowin: unknown mode %d", d.mode)
}

func (d *Device) programSRAM() error {
	if d.verbose {
		if st, err := d.ReadStatusReg(); err == nil {
			dumpStatus("before program sram", st)
		}
	}
	// Some Arora parts come up stuck in Bad Command and refuse the erase
	// until reloaded and clocked for a while.
	if d.variant.SRAMResetWorkaround {
		if err := d.Reset(); err != nil {
			return err
		}
		if err := d.port.SetState(tap.StateRunTestIdle); err != nil {
			return err
		}
		if err := d.port.ToggleClock(1_000_000); err != nil {
			return err
		}
	}

	if d.eraseSRAM() != stepOK {
		return fmt.Errorf("gowin: SRAM erase failed")
	}
	if d.writeSRAM(d.fs.Data(), d.fs.BitLength()) != stepOK {
		return fmt.Errorf("gowin: SRAM load failed")
	}
	if d.variant.ChecksumKnown {
		d.checkCRC()
	}
	if d.verbose {
		if st, err := d.ReadStatusReg(); err == nil {
			dumpStatus("after program sram", st)
		}
	}
	return nil
}

func (d *Device) programFlash() error {
	data := d.fs.Data()
	bits := d.fs.BitLength()

	if err := d.port.SetFrequency(2_500_000); err != nil {
		return err
	}
	if err := d.sendCommands(opConfigDisable, 0x00); err != nil {
		return err
	}
	if err := d.port.SetState(tap.StateTestLogicReset); err != nil {
		return err
	}
	st, err := d.ReadStatusReg()
	if err != nil {
		return err
	}
	if st&(StatusVLD|StatusPOR) == 0 {
		dumpStatus("either Gowin VLD or POR should be set, aborting", st)
		return fmt.Errorf("gowin: device not ready for flash programming (status %08x)", st)
	}

	if d.eraseFlash() != stepOK {
		return fmt.Errorf("gowin: flash erase failed")
	}
	if d.writeFlash(0, data, bits) != stepOK {
		return fmt.Errorf("gowin: flash write failed")
	}
	if d.mcufw != nil {
		if d.writeFlash(mcuFirmwarePage, d.mcufw.Data(), d.mcufw.BitLength()) != stepOK {
			return fmt.Errorf("gowin: MCU firmware write failed")
		}
	}
	if d.verify {
		fmt.Println("warning: flash write verification not supported")
	}
	if d.variant.ChecksumKnown {
		d.checkCRC()
	}
	if d.verbose {
		if st, err := d.ReadStatusReg(); err == nil {
			dumpStatus("after program flash", st)
		}
	}
	return nil
}

func (d *Device) programExtFlash(offset uint32, unprotect bool) (err error) {
	if err := d.port.SetFrequency(10_000_000); err != nil {
		return err
	}
	if err := d.enableCfg(); err != nil {
		return fmt.Errorf("gowin: enable configuration: %w", err)
	}
	d.eraseSRAM()
	if err := d.sendCommands(opXferDone, opNoop); err != nil {
		return err
	}

	// Route JTAG to the SPI pins. GW2A tunnels SPI through an opcode
	// instead, so it leaves configuration mode here.
	if !d.variant.PassthroughSPI {
		if err := d.sendCommand(opExtFlashExit); err != nil {
			return err
		}
	} else {
		if err := d.disableCfg(); err != nil {
			return err
		}
		if err := d.sendCommand(opNoop); err != nil {
			return err
		}
	}

	// Programming may leave the device half-configured; reload it whatever
	// happens so it comes back in a defined state.
	defer func() {
		if rerr := d.Reset(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	flash := d.newFlash(d.spiTransport(), d.verbose)
	if err := flash.Reset(); err != nil {
		return err
	}
	if _, err := flash.ReadID(); err != nil {
		return err
	}
	if st, err := flash.ReadStatus(); err == nil && d.verbose {
		fmt.Printf("flash status: %02x\n", st)
	}
	if unprotect {
		if err := flash.Unprotect(); err != nil {
			return err
		}
	}

	data := d.fs.Data()
	if err := flash.EraseAndProgram(offset, data); err != nil {
		return fmt.Errorf("gowin: write to external flash: %w", err)
	}
	if d.verify {
		if err := flash.Verify(offset, data, flashPageBytes); err != nil {
			return fmt.Errorf("gowin: external flash verification: %w", err)
		}
	}
	if !d.variant.PassthroughSPI {
		if err := d.disableCfg(); err != nil {
			return fmt.Errorf("gowin: disable configuration: %w", err)
		}
	}
	return nil
}

// checkCRC compares the post-load user code against the file checksum. The
// user code register may also hold an explicit value from the checkSum
// header, so that is accepted too. Advisory: a mismatch is reported but the
// load stands.
func (d *Device) checkCRC() outcome {
	ucode, err := d.ReadUserCode()
	if err != nil {
		fmt.Printf("CRC check: cannot read user code: %v\n", err)
		return stepAdvisory
	}
	checksum := d.fs.Checksum()
	if uint16(ucode) == checksum {
		fmt.Println("CRC check: Success")
		return stepOK
	}
	if hdr, err := d.fs.HeaderValue("checkSum"); err == nil && hdr != "" {
		hdr = strings.TrimPrefix(hdr, "0x")
		if v, err := strconv.ParseUint(hdr, 16, 32); err == nil && uint32(v) == ucode {
			fmt.Println("CRC check: Success")
			return stepOK
		}
	}
	fmt.Println("CRC check: FAIL")
	fmt.Printf("Read: 0x%08x checksum: 0x%04x\n", ucode, checksum)
	return stepAdvisory
}

func (d *Device) eraseSRAM() outcome {
	fmt.Println("Erase SRAM")
	if d.verbose {
		if st, err := d.ReadStatusReg(); err == nil {
			dumpStatus("before erase sram", st)
		}
	}
	if err := d.enableCfg(); err != nil {
		fmt.Printf("erase sram: %v\n", err)
		return stepFatal
	}
	if err := d.sendCommands(opEraseSRAM, opNoop); err != nil {
		fmt.Printf("erase sram: %v\n", err)
		return stepFatal
	}
	// Memory Erase drops when the erase starts and rises again when it
	// finishes; waiting on the rise is enough, no timed wait needed.
	if err := d.pollFlag(StatusMemoryErase, StatusMemoryErase); err != nil {
		fmt.Printf("erase sram: %v\n", err)
		return stepFatal
	}
	if err := d.sendCommands(opXferDone, opNoop); err != nil {
		fmt.Printf("erase sram: %v\n", err)
		return stepFatal
	}
	if err := d.disableCfg(); err != nil {
		fmt.Printf("erase sram: %v\n", err)
		return stepFatal
	}
	st, err := d.ReadStatusReg()
	if err != nil {
		fmt.Printf("erase sram: %v\n", err)
		return stepFatal
	}
	if st&StatusDoneFinal != 0 {
		fmt.Println("erase sram: FAIL, Done Final still set")
		return stepFatal
	}
	return stepOK
}

func (d *Device) writeSRAM(data []byte, bits int) outcome {
	fmt.Println("Load SRAM")
	if d.verbose {
		if st, err := d.ReadStatusReg(); err == nil {
			dumpStatus("before write sram", st)
		}
	}
	if err := d.sendCommands(opConfigEnable, opInitAddr, opXferWrite); err != nil {
		fmt.Printf("write sram: %v\n", err)
		return stepFatal
	}

	remains := bits
	off := 0 // bytes
	for remains > 0 {
		chunk := sramChunkBits
		next := tap.StateShiftDR
		if remains <= chunk {
			chunk = remains
			next = tap.StateRunTestIdle
		}
		if err := d.port.ShiftDR(data[off:], nil, chunk, next); err != nil {
			fmt.Printf("write sram: %v\n", err)
			return stepFatal
		}
		off += chunk >> 3
		remains -= chunk
	}

	if err := d.sendCommand(opChecksumFrame); err != nil {
		fmt.Printf("write sram: %v\n", err)
		return stepFatal
	}
	sum := []byte{byte(d.fs.Checksum()), byte(d.fs.Checksum() >> 8), 0, 0}
	if err := d.port.ShiftDR(sum, nil, 32, tap.StateRunTestIdle); err != nil {
		fmt.Printf("write sram: %v\n", err)
		return stepFatal
	}
	if err := d.sendCommands(opChecksumClose, opConfigDisable, opNoop); err != nil {
		fmt.Printf("write sram: %v\n", err)
		return stepFatal
	}

	st, err := d.ReadStatusReg()
	if err != nil {
		fmt.Printf("write sram: %v\n", err)
		return stepFatal
	}
	if st&StatusDoneFinal == 0 {
		dumpStatus("load sram: FAIL", st)
		return stepFatal
	}
	fmt.Println("Load SRAM: DONE")
	return stepOK
}

func (d *Device) eraseFlash() outcome {
	st, err := d.ReadStatusReg()
	if err != nil {
		fmt.Printf("erase flash: %v\n", err)
		return stepFatal
	}
	// A valid bitstream in SRAM blocks the flash erase.
	if st&StatusVLD != 0 {
		if d.eraseSRAM() != stepOK {
			return stepFatal
		}
	}

	fmt.Println("Erase FLASH")
	bursts := 1
	if d.variant.ExtendedErase {
		bursts = 65
	}
	for i := 0; i < 100; i++ {
		if err := d.enableCfg(); err != nil {
			fmt.Printf("erase flash: %v\n", err)
			return stepFatal
		}
		if err := d.sendCommand(opEFlashErase); err != nil {
			fmt.Printf("erase flash: %v\n", err)
			return stepFatal
		}
		if err := d.port.SetState(tap.StateRunTestIdle); err != nil {
			fmt.Printf("erase flash: %v\n", err)
			return stepFatal
		}
		// Raw 32-clock bursts parked in Shift-DR, not register shifts: the
		// final bit of a shift would raise TMS one clock early.
		for b := 0; b < bursts; b++ {
			if err := d.port.SetState(tap.StateShiftDR); err != nil {
				return stepFatal
			}
			if err := d.port.ToggleClock(32); err != nil {
				return stepFatal
			}
			if err := d.port.SetState(tap.StateRunTestIdle); err != nil {
				return stepFatal
			}
		}
		// No status bit tracks the erase itself; the datasheet wait is
		// 160ms of clocks.
		if err := d.sendClkUs(150 * 1000); err != nil {
			return stepFatal
		}
		if err := d.disableCfg(); err != nil {
			fmt.Printf("erase flash: %v\n", err)
			return stepFatal
		}
		if err := d.port.Flush(); err != nil {
			return stepFatal
		}
		d.sleep(500 * time.Millisecond)

		st, err := d.ReadStatusReg()
		if err != nil {
			fmt.Printf("erase flash: %v\n", err)
			return stepFatal
		}
		if d.verbose {
			dumpStatus("after erase flash", st)
		}
		if st&StatusDoneFinal == 0 {
			break
		}
	}

	st, err = d.ReadStatusReg()
	if err != nil {
		return stepFatal
	}
	if st&StatusDoneFinal != 0 {
		fmt.Println("Erase FLASH: FAIL")
		return stepFatal
	}
	fmt.Println("Erase FLASH: DONE")
	return stepOK
}

func (d *Device) writeFlash(page uint32, data []byte, bits int) outcome {
	fmt.Println("Write FLASH")
	if d.verbose {
		if st, err := d.ReadStatusReg(); err == nil {
			dumpStatus("before write flash", st)
		}
	}

	slow := d.variant.ExtendedErase
	length := bits / 8
	for off := 0; off < length; off += flashPageBytes {
		var xpage [flashPageBytes]byte
		l := flashPageBytes
		if length-off < l {
			l = length - off
			for i := l; i < flashPageBytes; i++ {
				xpage[i] = 0xFF
			}
		}
		copy(xpage[:l], data[off:])

		addr := uint32(off)/4 + page
		if addr == 0 {
			copy(xpage[:4], autobootSig[:])
		} else {
			if err := d.sendClkUs(16); err != nil {
				return stepFatal
			}
		}

		if err := d.sendCommands(opConfigEnable, opNoop, opEFProgram); err != nil {
			fmt.Printf("write flash: %v\n", err)
			return stepFatal
		}
		w := []byte{byte(addr), byte(addr >> 8), byte(addr >> 16), byte(addr >> 24)}
		if err := d.port.ShiftDR(w, nil, 32, tap.StateRunTestIdle); err != nil {
			return stepFatal
		}
		if err := d.sendClkUs(16); err != nil {
			return stepFatal
		}
		for y := 0; y < flashPageWords; y++ {
			// Words go out byte-reversed.
			p := xpage[y*4 : y*4+4]
			rev := []byte{p[3], p[2], p[1], p[0]}
			if err := d.port.ShiftDR(rev, nil, 32, tap.StateRunTestIdle); err != nil {
				return stepFatal
			}
			us := uint64(16)
			if slow {
				us = 32
			}
			if err := d.sendClkUs(us); err != nil {
				return stepFatal
			}
		}
		us := uint64(6)
		if slow {
			us = 2400
		}
		if err := d.sendClkUs(us); err != nil {
			return stepFatal
		}
	}

	if err := d.disableCfg(); err != nil {
		fmt.Printf("write flash: %v\n", err)
		return stepFatal
	}
	if err := d.sendCommands(opReload, opNoop); err != nil {
		return stepFatal
	}
	if err := d.port.Flush(); err != nil {
		return stepFatal
	}
	d.sleep(500 * time.Millisecond)

	st, err := d.ReadStatusReg()
	if err != nil {
		fmt.Printf("write flash: %v\n", err)
		return stepFatal
	}
	if st&StatusDoneFinal == 0 {
		dumpStatus("write flash: FAIL", st)
		return stepFatal
	}
	fmt.Println("Write FLASH: DONE")
	return stepOK
}
