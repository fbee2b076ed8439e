package gowin

// JTAG configuration opcodes (TN653).
const (
	opNoop           = 0x02
	opReadSRAM       = 0x03
	opEraseSRAM      = 0x05
	opXferDone       = 0x09
	opReadIDCode     = 0x11
	opInitAddr       = 0x12
	opReadUserCode   = 0x13
	opConfigEnable   = 0x15
	opSPIPassthrough = 0x16
	opXferWrite      = 0x17
	opConfigDisable  = 0x3A
	opReload         = 0x3C
	opExtFlashExit   = 0x3D
	opStatusRegister = 0x41
	opEFProgram      = 0x71
	opEFlashErase    = 0x75
	opSwitchMCUJTAG  = 0x7A

	// SRAM load finalization pair; the 32-bit file checksum rides between them.
	opChecksumFrame = 0x0A
	opChecksumClose = 0x08
)
