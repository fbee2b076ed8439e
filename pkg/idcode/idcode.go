// Package idcode splits IEEE 1149.1 IDCODE values into their JEDEC fields and
// resolves the manufacturer against a small JEP106 subset.
package idcode

import "fmt"

// IDCode represents a parsed IEEE 1149.1 JTAG IDCODE.
type IDCode struct {
	Raw              uint32 // full IDCODE
	Version          uint8  // [31:28]
	PartNumber       uint16 // [27:12]
	ManufacturerCode uint16 // [11:1] JEP106
	HasIDCode        bool   // bit 0 == 1
}

// Manufacturer represents a JEP106 manufacturer entry.
type Manufacturer struct {
	Code         uint16
	Name         string
	Abbreviation string
}

// Parse splits a raw 32-bit IDCODE into its component fields.
func Parse(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8((raw >> 28) & 0xF),
		PartNumber:       uint16((raw >> 12) & 0xFFFF),
		ManufacturerCode: uint16((raw >> 1) & 0x7FF),
		HasIDCode:        (raw & 0x1) == 0x1,
	}
}

// String returns a formatted representation of the IDCODE.
func (i IDCode) String() string {
	m, _ := LookupManufacturer(i.ManufacturerCode)
	return fmt.Sprintf("0x%08X (Mfg: %s, Part: 0x%04X, Ver: %d)",
		i.Raw, m.Name, i.PartNumber, i.Version)
}

// manufacturers is the subset of the JEP106 database this tool encounters.
var manufacturers = map[uint16]Manufacturer{
	0x00C: {Code: 0x00C, Name: "Monolithic Memories", Abbreviation: "MMI"},
	0x01F: {Code: 0x01F, Name: "Atmel", Abbreviation: "Atmel"},
	0x020: {Code: 0x020, Name: "STMicroelectronics", Abbreviation: "STM"},
	0x031: {Code: 0x031, Name: "Xilinx", Abbreviation: "Xilinx"},
	0x03D: {Code: 0x03D, Name: "Altera", Abbreviation: "Altera"},
	0x041: {Code: 0x041, Name: "Lattice", Abbreviation: "Lattice"},
	0x093: {Code: 0x093, Name: "ARM", Abbreviation: "ARM"},
	0x1F1: {Code: 0x1F1, Name: "Raspberry Pi", Abbreviation: "RPi"},
	// All Gowin parts carry 0x81B in the low IDCODE bits.
	0x40D: {Code: 0x40D, Name: "Gowin Semiconductor", Abbreviation: "Gowin"},
}

// LookupManufacturer returns manufacturer info for a JEP106 code.
func LookupManufacturer(code uint16) (Manufacturer, bool) {
	m, ok := manufacturers[code]
	if !ok {
		return Manufacturer{
			Code:         code,
			Name:         fmt.Sprintf("Unknown (0x%03X)", code),
			Abbreviation: "Unknown",
		}, false
	}
	return m, true
}
