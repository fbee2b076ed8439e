package spiflash

import (
	"testing"
)

// memTransport models a 64 KiB-sector NOR chip behind the Transport interface.
type memTransport struct {
	mem    []byte
	status byte
	log    []byte // command bytes in order
}

func newMemTransport(size int) *memTransport {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0x00 // deliberately not erased
	}
	return &memTransport{mem: mem}
}

func (m *memTransport) Transfer(cmd byte, tx []byte, readLen int) ([]byte, error) {
	m.log = append(m.log, cmd)
	switch cmd {
	case cmdWriteEnable:
		m.status |= statusWriteEnable
	case cmdWriteStatus:
		m.status = 0
	case cmdReadStatus:
		return []byte{m.status}, nil
	case cmdReadID:
		return []byte{0xEF, 0x40, 0x18}, nil
	case cmdSectorErase:
		addr := int(tx[0])<<16 | int(tx[1])<<8 | int(tx[2])
		for i := 0; i < sectorSize && addr+i < len(m.mem); i++ {
			m.mem[addr+i] = 0xFF
		}
		m.status &^= statusWriteEnable
	case cmdPageProgram:
		addr := int(tx[0])<<16 | int(tx[1])<<8 | int(tx[2])
		for i, b := range tx[3:] {
			m.mem[addr+i] &= b // NOR programming only clears bits
		}
		m.status &^= statusWriteEnable
	case cmdRead:
		addr := int(tx[0])<<16 | int(tx[1])<<8 | int(tx[2])
		out := make([]byte, readLen)
		copy(out, m.mem[addr:])
		return out, nil
	}
	return make([]byte, readLen), nil
}

func (m *memTransport) WaitReady(cmd, mask, cond byte, timeout uint32, verbose bool) error {
	// Status settles immediately in the model.
	if m.status&mask != cond {
		m.status = cond // erase/program completion
	}
	return nil
}

func TestEraseAndProgramThenVerify(t *testing.T) {
	tr := newMemTransport(2 * sectorSize)
	f := New(tr, false)

	data := make([]byte, 600) // spans three pages, one sector
	for i := range data {
		data[i] = byte(i * 7)
	}

	if err := f.EraseAndProgram(0, data); err != nil {
		t.Fatalf("EraseAndProgram returned error: %v", err)
	}
	for i, want := range data {
		if tr.mem[i] != want {
			t.Fatalf("mem[%d] = 0x%02X, want 0x%02X", i, tr.mem[i], want)
		}
	}
	// Rest of the sector stays erased.
	if tr.mem[len(data)] != 0xFF {
		t.Fatalf("byte after payload = 0x%02X, want 0xFF", tr.mem[len(data)])
	}

	if err := f.Verify(0, data, 256); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}

	tr.mem[17] ^= 0xFF
	if err := f.Verify(0, data, 256); err == nil {
		t.Fatal("Verify passed on corrupted flash")
	}
}

func TestEraseAndProgramRejectsUnalignedOffset(t *testing.T) {
	f := New(newMemTransport(sectorSize), false)
	if err := f.EraseAndProgram(100, []byte{1}); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestEveryPageProgramIsWriteEnabled(t *testing.T) {
	tr := newMemTransport(sectorSize)
	f := New(tr, false)

	if err := f.EraseAndProgram(0, make([]byte, 512)); err != nil {
		t.Fatalf("EraseAndProgram returned error: %v", err)
	}

	for i, cmd := range tr.log {
		if cmd == cmdPageProgram || cmd == cmdSectorErase {
			if i == 0 || tr.log[i-1] != cmdWriteEnable {
				t.Fatalf("command 0x%02X at %d not preceded by write enable", cmd, i)
			}
		}
	}
}

func TestReadIDAndStatus(t *testing.T) {
	tr := newMemTransport(sectorSize)
	f := New(tr, false)

	id, err := f.ReadID()
	if err != nil {
		t.Fatalf("ReadID returned error: %v", err)
	}
	if id != [3]byte{0xEF, 0x40, 0x18} {
		t.Fatalf("id = %v, want Winbond W25Q128", id)
	}

	if err := f.Unprotect(); err != nil {
		t.Fatalf("Unprotect returned error: %v", err)
	}
	st, err := f.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus returned error: %v", err)
	}
	if st != 0 {
		t.Fatalf("status = 0x%02X, want 0", st)
	}
}
