package gowin

// PinMap gives the boundary-scan control-byte bit of each SPI signal when the
// flash is reached by bit-banging through the JTAG pins.
type PinMap struct {
	SCK  byte
	CS   byte
	DI   byte // device input, flash DO
	DO   byte // device output, flash DI
	Mask byte // output-enable bit, kept set for the whole transaction
}

var (
	// Most families route the SPI pins this way.
	defaultPins = PinMap{SCK: 1 << 1, CS: 1 << 3, DI: 1 << 5, DO: 1 << 7, Mask: 1 << 6}
	// GW1NSR-4C swaps the whole mapping.
	legacyPins = PinMap{SCK: 1 << 7, CS: 1 << 5, DI: 1 << 3, DO: 1 << 1, Mask: 1 << 0}
)

// Variant captures the per-family deviations from the common programming
// sequence, resolved once from the IDCODE.
type Variant struct {
	IDCode uint32
	Name   string

	// ExtendedErase selects the 65-burst flash erase and the slower per-word
	// program timing the smallest part needs.
	ExtendedErase bool
	// LegacyPins selects the swapped boundary-scan SPI pin mapping.
	LegacyPins bool
	// PassthroughSPI selects the opcode-driven SPI tunnel with bit-reversed
	// framing instead of bit-banging the boundary scan pins.
	PassthroughSPI bool
	// ExternalFlashOnly forces flash programming to target the external SPI
	// chip; these parts have no internal flash reachable over JTAG.
	ExternalFlashOnly bool
	// ChecksumKnown is false where the user-code checksum algorithm is
	// undocumented and the post-load comparison must be skipped.
	ChecksumKnown bool
	// FlashWriteSupported is false where the flash sequence is not known yet.
	FlashWriteSupported bool
	// SRAMResetWorkaround inserts a reload and a long idle-clock run before
	// SRAM loading; without it these parts refuse the erase.
	SRAMResetWorkaround bool
	// MCUFirmwareAllowed permits a companion MCU firmware image in flash mode.
	MCUFirmwareAllowed bool

	Pins PinMap
}

// ResolveVariant maps an IDCODE to its family behavior. Unknown IDCODEs get
// the common behavior with the default pin mapping, which matches the bulk of
// the LittleBee parts.
func ResolveVariant(idcode uint32) Variant {
	v := Variant{
		IDCode:              idcode,
		ChecksumKnown:       true,
		FlashWriteSupported: true,
		Pins:                defaultPins,
	}
	switch idcode {
	case 0x0900281B:
		v.Name = "GW1N-1"
		v.ExtendedErase = true
	case 0x0100381B:
		v.Name = "GW1N-4"
	case 0x0100681B:
		v.Name = "GW1NZ-1"
	case 0x0100981B:
		v.Name = "GW1NSR-4C"
		v.LegacyPins = true
		v.MCUFirmwareAllowed = true
		v.Pins = legacyPins
	case 0x0000081B, 0x0000281B:
		v.Name = "GW2A"
		v.PassthroughSPI = true
		v.ExternalFlashOnly = true
		v.ChecksumKnown = false
	case 0x0001081B, 0x0001181B, 0x0001281B:
		v.Name = "GW5A"
		v.ExternalFlashOnly = true
		v.ChecksumKnown = false
		v.FlashWriteSupported = false
		v.SRAMResetWorkaround = true
	}
	return v
}
