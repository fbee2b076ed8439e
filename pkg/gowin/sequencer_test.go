package gowin

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/OpenTraceLab/gowinprog/pkg/bitstream"
	"github.com/OpenTraceLab/gowinprog/pkg/spiflash"
	"github.com/OpenTraceLab/gowinprog/pkg/tap"
)

func TestProgramSRAMSequence(t *testing.T) {
	data := []byte{0x80, 0x7F, 0x01, 0xFE}
	port := newFakePort(0x0900281B)
	port.usercode = uint32(byteSum(data))
	d := newTestDevice(t, port, Config{
		Mode:      ModeSRAM,
		Bitstream: fsImage(0x0900281B, data),
	})

	if err := d.Program(0, false); err != nil {
		t.Fatalf("Program returned error: %v", err)
	}

	want := []byte{
		// erase
		opConfigEnable, opEraseSRAM, opNoop, opXferDone, opNoop,
		opConfigDisable, opNoop,
		// load
		opConfigEnable, opInitAddr, opXferWrite,
		opChecksumFrame, opChecksumClose, opConfigDisable, opNoop,
		// checksum comparison
		opReadUserCode,
	}
	got := port.irWithoutStatus()
	if !bytes.Equal(got, want) {
		t.Fatalf("opcode sequence = %02x, want %02x", got, want)
	}

	loads := port.drWrites(opXferWrite)
	if len(loads) != 1 {
		t.Fatalf("data shifts = %d, want 1", len(loads))
	}
	if loads[0].bits != 32 || loads[0].end != tap.StateRunTestIdle {
		t.Fatalf("data shift = %+v", loads[0])
	}
	if !bytes.Equal(loads[0].data, data) {
		t.Fatalf("shifted data = %02x, want %02x", loads[0].data, data)
	}

	sums := port.drWrites(opChecksumFrame)
	if len(sums) != 1 || sums[0].bits != 32 {
		t.Fatalf("checksum shifts = %+v", sums)
	}
	sum := byteSum(data)
	if wantSum := []byte{byte(sum), byte(sum >> 8), 0, 0}; !bytes.Equal(sums[0].data, wantSum) {
		t.Fatalf("checksum bytes = %02x, want %02x", sums[0].data, wantSum)
	}
}

func TestWriteSRAMChunksLargeBitstreams(t *testing.T) {
	// One full chunk plus 32 bits: the first shift stays parked in Shift-DR,
	// the final one exits to Run-Test/Idle.
	data := make([]byte, sramChunkBits/8+4)
	for i := range data {
		data[i] = byte(i)
	}
	port := newFakePort(0x0100381B)
	d := newTestDevice(t, port, Config{
		Mode:      ModeSRAM,
		Bitstream: bitstream.NewRaw(data),
	})

	if err := d.Program(0, false); err != nil {
		t.Fatalf("Program returned error: %v", err)
	}

	loads := port.drWrites(opXferWrite)
	if len(loads) != 2 {
		t.Fatalf("data shifts = %d, want 2", len(loads))
	}
	if loads[0].bits != sramChunkBits || loads[0].end != tap.StateShiftDR {
		t.Fatalf("first chunk = {bits: %d, end: %s}", loads[0].bits, loads[0].end)
	}
	if loads[1].bits != 32 || loads[1].end != tap.StateRunTestIdle {
		t.Fatalf("final chunk = {bits: %d, end: %s}", loads[1].bits, loads[1].end)
	}
	if !bytes.Equal(loads[1].data, data[len(data)-4:]) {
		t.Fatalf("final chunk data = %02x", loads[1].data)
	}
}

func TestProgramSRAMAppliesGW5AWorkaround(t *testing.T) {
	port := newFakePort(0x0001081B)
	d := newTestDevice(t, port, Config{
		Mode:      ModeSRAM,
		Bitstream: bitstream.NewRaw([]byte{1, 2, 3, 4}),
	})

	if err := d.Program(0, false); err != nil {
		t.Fatalf("Program returned error: %v", err)
	}

	if port.irLog[0] != opReload || port.irLog[1] != opNoop {
		t.Fatalf("sequence must start with a reload, got %02x", port.irLog[:2])
	}
	var longRun bool
	for _, c := range port.clockLog {
		if c.cycles == 1_000_000 && c.state == tap.StateRunTestIdle {
			longRun = true
		}
	}
	if !longRun {
		t.Fatal("missing 1M idle clocks before SRAM erase")
	}
	// Checksum algorithm is unknown on this family, no user-code read.
	for _, op := range port.irLog {
		if op == opReadUserCode {
			t.Fatal("checksum comparison must be skipped")
		}
	}
}

func TestWriteFlashPageLayout(t *testing.T) {
	data := make([]byte, 260)
	for i := range data {
		data[i] = byte(i + 1)
	}
	copy(data[4:8], []byte{0x01, 0x02, 0x03, 0x04})

	port := newFakePort(0x0100381B)
	d := newTestDevice(t, port, Config{})

	if res := d.writeFlash(0, data, len(data)*8); res != stepOK {
		t.Fatalf("writeFlash = %v, want stepOK", res)
	}

	shifts := port.drWrites(opEFProgram)
	if len(shifts) != 2*65 {
		t.Fatalf("DR shifts = %d, want 130 (2 pages of addr + 64 words)", len(shifts))
	}
	for i, sh := range shifts {
		if sh.bits != 32 || sh.end != tap.StateRunTestIdle {
			t.Fatalf("shift %d = %+v", i, sh)
		}
	}

	// Page 0: address word 0, then the autoboot signature in place of the
	// first data word, every word byte-reversed on the wire.
	if !bytes.Equal(shifts[0].data, []byte{0, 0, 0, 0}) {
		t.Fatalf("page 0 address = %02x", shifts[0].data)
	}
	if !bytes.Equal(shifts[1].data, []byte{'N', '1', 'W', 'G'}) {
		t.Fatalf("page 0 word 0 = %02x, want reversed GW1N signature", shifts[1].data)
	}
	if !bytes.Equal(shifts[2].data, []byte{0x04, 0x03, 0x02, 0x01}) {
		t.Fatalf("page 0 word 1 = %02x, want bytes reversed", shifts[2].data)
	}

	// Page 1: word address 64, 4 payload bytes, rest filled with 0xFF.
	if !bytes.Equal(shifts[65].data, []byte{0x40, 0, 0, 0}) {
		t.Fatalf("page 1 address = %02x", shifts[65].data)
	}
	tail := data[256:260]
	if want := []byte{tail[3], tail[2], tail[1], tail[0]}; !bytes.Equal(shifts[66].data, want) {
		t.Fatalf("page 1 word 0 = %02x, want %02x", shifts[66].data, want)
	}
	for i := 67; i < 130; i++ {
		if !bytes.Equal(shifts[i].data, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
			t.Fatalf("page 1 word %d = %02x, want erased fill", i-65, shifts[i].data)
		}
	}
}

func TestEraseFlashBurstCount(t *testing.T) {
	tests := []struct {
		name   string
		idcode uint32
		bursts int
	}{
		{name: "GW1N-1 needs 65", idcode: 0x0900281B, bursts: 65},
		{name: "others need 1", idcode: 0x0100381B, bursts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newFakePort(tt.idcode)
			d := newTestDevice(t, port, Config{})

			if res := d.eraseFlash(); res != stepOK {
				t.Fatalf("eraseFlash = %v, want stepOK", res)
			}

			var bursts int
			var wait bool
			for _, c := range port.clockLog {
				if c.state == tap.StateShiftDR && c.cycles == 32 {
					bursts++
				}
				if c.state == tap.StateRunTestIdle && c.cycles == 375_000 {
					wait = true // 150ms of clocks at 2.5MHz
				}
			}
			if bursts != tt.bursts {
				t.Fatalf("raw 32-clock bursts = %d, want %d", bursts, tt.bursts)
			}
			if !wait {
				t.Fatal("missing clocked settle wait")
			}

			var attempts int
			for _, op := range port.irLog {
				if op == opEFlashErase {
					attempts++
				}
			}
			if attempts != 1 {
				t.Fatalf("erase attempts = %d, want 1 when Done clears immediately", attempts)
			}
		})
	}
}

func TestProgramFlashInternal(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x10, 0x20, 0x30, 0x40}
	port := newFakePort(0x0100381B)
	port.usercode = uint32(byteSum(data))
	d := newTestDevice(t, port, Config{
		Mode:      ModeFlash,
		Bitstream: fsImage(0x0100381B, data),
	})

	if err := d.Program(0, false); err != nil {
		t.Fatalf("Program returned error: %v", err)
	}
	if port.freq != 2_500_000 {
		t.Fatalf("frequency = %d, want 2.5MHz for internal flash", port.freq)
	}

	var erased, programmed bool
	for _, op := range port.irLog {
		if op == opEFlashErase {
			erased = true
		}
		if op == opEFProgram {
			programmed = true
		}
	}
	if !erased || !programmed {
		t.Fatalf("erase=%v program=%v, want both", erased, programmed)
	}
}

func TestProgramFlashRequiresVLDOrPOR(t *testing.T) {
	port := newFakePort(0x0100381B)
	port.por = false
	d := newTestDevice(t, port, Config{
		Mode:      ModeFlash,
		Bitstream: fsImage(0x0100381B, []byte{1, 2, 3, 4}),
	})

	err := d.Program(0, false)
	if err == nil {
		t.Fatal("expected error when neither VLD nor POR is set")
	}
	if !strings.Contains(err.Error(), "not ready") {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, op := range port.irLog {
		if op == opEFlashErase || op == opEFProgram {
			t.Fatal("flash must not be touched when the device is not ready")
		}
	}
}

func TestCheckCRC(t *testing.T) {
	data := []byte{0x11, 0x22, 0x33, 0x44}

	t.Run("user code matches file checksum", func(t *testing.T) {
		port := newFakePort(0x0900281B)
		port.usercode = uint32(byteSum(data))
		d := newTestDevice(t, port, Config{Bitstream: fsImage(0x0900281B, data)})
		if res := d.checkCRC(); res != stepOK {
			t.Fatalf("checkCRC = %v, want stepOK", res)
		}
	})

	t.Run("user code matches checkSum header", func(t *testing.T) {
		src := "//IDCODE: 0x0900281B\n//CheckSum: 0x12345678\n00010001\n"
		port := newFakePort(0x0900281B)
		port.usercode = 0x12345678
		d := newTestDevice(t, port, Config{Bitstream: bitstream.NewFS(strings.NewReader(src))})
		if res := d.checkCRC(); res != stepOK {
			t.Fatalf("checkCRC = %v, want stepOK", res)
		}
	})

	t.Run("mismatch is advisory", func(t *testing.T) {
		port := newFakePort(0x0900281B)
		port.usercode = 0xBADBAD
		d := newTestDevice(t, port, Config{Bitstream: fsImage(0x0900281B, data)})
		if res := d.checkCRC(); res != stepAdvisory {
			t.Fatalf("checkCRC = %v, want stepAdvisory", res)
		}
	})

	t.Run("mismatch does not fail the load", func(t *testing.T) {
		port := newFakePort(0x0900281B)
		port.usercode = 0xBADBAD
		d := newTestDevice(t, port, Config{
			Mode:      ModeSRAM,
			Bitstream: fsImage(0x0900281B, data),
		})
		if err := d.Program(0, false); err != nil {
			t.Fatalf("Program returned error: %v", err)
		}
	})
}

type fakeFlash struct {
	calls       []string
	failProgram bool
	lastOffset  uint32
	lastLen     int
}

func (f *fakeFlash) Reset() error { f.calls = append(f.calls, "reset"); return nil }

func (f *fakeFlash) ReadID() ([3]byte, error) {
	f.calls = append(f.calls, "readid")
	return [3]byte{0xEF, 0x40, 0x18}, nil
}

func (f *fakeFlash) ReadStatus() (byte, error) {
	f.calls = append(f.calls, "readstatus")
	return 0, nil
}

func (f *fakeFlash) Unprotect() error { f.calls = append(f.calls, "unprotect"); return nil }

func (f *fakeFlash) EraseAndProgram(offset uint32, data []byte) error {
	f.calls = append(f.calls, "program")
	f.lastOffset = offset
	f.lastLen = len(data)
	if f.failProgram {
		return fmt.Errorf("program failed")
	}
	return nil
}

func (f *fakeFlash) Verify(offset uint32, data []byte, chunkSize int) error {
	f.calls = append(f.calls, "verify")
	return nil
}

func extFlashDevice(t *testing.T, idcode uint32, verify bool) (*Device, *fakePort, *fakeFlash) {
	t.Helper()
	port := newFakePort(idcode)
	d := newTestDevice(t, port, Config{
		Mode:          ModeFlash,
		ExternalFlash: true,
		Verify:        verify,
		Bitstream:     bitstream.NewRaw([]byte{1, 2, 3, 4, 5, 6, 7, 8}),
	})
	ff := &fakeFlash{}
	d.newFlash = func(tr spiflash.Transport, verbose bool) flashAlgorithm { return ff }
	return d, port, ff
}

func TestProgramExtFlash(t *testing.T) {
	d, port, ff := extFlashDevice(t, 0x0100381B, true)

	if err := d.Program(0, true); err != nil {
		t.Fatalf("Program returned error: %v", err)
	}
	if port.freq != 10_000_000 {
		t.Fatalf("frequency = %d, want 10MHz for external flash", port.freq)
	}

	var exit bool
	for _, op := range port.irLog {
		if op == opExtFlashExit {
			exit = true
		}
	}
	if !exit {
		t.Fatal("missing SPI handoff opcode")
	}

	wantCalls := []string{"reset", "readid", "readstatus", "unprotect", "program", "verify"}
	if fmt.Sprint(ff.calls) != fmt.Sprint(wantCalls) {
		t.Fatalf("flash calls = %v, want %v", ff.calls, wantCalls)
	}
	if ff.lastLen != 8 {
		t.Fatalf("programmed %d bytes, want 8", ff.lastLen)
	}

	// The device is reloaded at the end.
	ops := port.irLog
	if ops[len(ops)-2] != opReload || ops[len(ops)-1] != opNoop {
		t.Fatalf("sequence must end with a reload, got %02x", ops[len(ops)-2:])
	}
}

func TestProgramExtFlashGW2AUsesPassthroughExit(t *testing.T) {
	d, port, ff := extFlashDevice(t, 0x0000081B, false)

	if err := d.Program(0, false); err != nil {
		t.Fatalf("Program returned error: %v", err)
	}
	for _, op := range port.irLog {
		if op == opExtFlashExit {
			t.Fatal("GW2A must not use the boundary-scan handoff opcode")
		}
	}
	for _, c := range ff.calls {
		if c == "unprotect" || c == "verify" {
			t.Fatalf("unexpected flash call %q", c)
		}
	}
}

func TestProgramExtFlashResetsOnFailure(t *testing.T) {
	d, port, ff := extFlashDevice(t, 0x0100381B, false)
	ff.failProgram = true

	if err := d.Program(0, false); err == nil {
		t.Fatal("expected error from failed flash program")
	}
	// Reset must still happen so the device comes back in a defined state.
	ops := port.irLog
	if ops[len(ops)-2] != opReload || ops[len(ops)-1] != opNoop {
		t.Fatalf("sequence must end with a reload, got %02x", ops[len(ops)-2:])
	}
}
