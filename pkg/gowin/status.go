package gowin

import "fmt"

// Status register bits. The bit-to-meaning mapping is fixed across every
// supported family; only which bits are meaningful varies per part.
const (
	StatusCRCError       uint32 = 1 << 0
	StatusBadCommand     uint32 = 1 << 1
	StatusIDVerifyFailed uint32 = 1 << 2
	StatusTimeout        uint32 = 1 << 3
	StatusMemoryErase    uint32 = 1 << 5
	StatusPreamble       uint32 = 1 << 6
	StatusSystemEditMode uint32 = 1 << 7
	StatusSPIFlashDirect uint32 = 1 << 8
	StatusNonJTAGActive  uint32 = 1 << 10
	StatusBypass         uint32 = 1 << 11
	StatusVLD            uint32 = 1 << 12
	StatusDoneFinal      uint32 = 1 << 13
	StatusSecurityFinal  uint32 = 1 << 14
	StatusReady          uint32 = 1 << 15
	StatusPOR            uint32 = 1 << 16
	StatusFlashLock      uint32 = 1 << 17
	StatusFlash2Lock     uint32 = 1 << 18
)

// statusFlagNames maps bit positions 0..18 to their documented names.
var statusFlagNames = [19]string{
	"CRC Error", "Bad Command", "ID Verify Failed", "Timeout",
	"Reserved4", "Memory Erase", "Preamble", "System Edit Mode",
	"Program SPI FLASH directly", "Reserved9", "Non-JTAG configuration is active", "Bypass",
	"Gowin VLD", "Done Final", "Security Final", "Ready",
	"POR", "FLASH lock", "FLASH2 lock",
}

// DecodeStatus returns the names of exactly the flags whose bit is set in
// word, low bit first. Bits above position 18 are ignored.
func DecodeStatus(word uint32) []string {
	var flags []string
	for i, name := range statusFlagNames {
		if word&(1<<uint(i)) != 0 {
			flags = append(flags, name)
		}
	}
	return flags
}

// dumpStatus prints the raw register value and one line per set flag, the
// shape used by every verbose diagnostic in the driver.
func dumpStatus(prefix string, word uint32) {
	fmt.Printf("%s: status %08x\n", prefix, word)
	for _, name := range DecodeStatus(word) {
		fmt.Printf("\t%s\n", name)
	}
}
