package cmd

import (
	"fmt"

	"github.com/OpenTraceLab/gowinprog/pkg/bitstream"
	"github.com/OpenTraceLab/gowinprog/pkg/gowin"
	"github.com/spf13/cobra"
)

var (
	programMode   string
	externalFlash bool
	flashOffset   uint32
	unprotect     bool
	verifyWrite   bool
	mcuFirmware   string
)

var programCmd = &cobra.Command{
	Use:   "program <bitstream>",
	Short: "Write a bitstream to SRAM or flash",
	Long: `Write a bitstream to the device. The default target is configuration SRAM,
which is volatile; --mode flash makes the image persistent, either in the
internal flash or, with --external, in the SPI flash chip behind the FPGA.

The image format is picked from the file extension: .fs for the Gowin text
format, .hex/.ihx for Intel HEX, anything else is treated as a raw binary.
Raw binaries can only target external flash.

Examples:
  # Volatile SRAM load
  gowinprog program blink.fs

  # Internal flash, persistent
  gowinprog program --mode flash blink.fs

  # External SPI flash at offset 0, lifting block protection first
  gowinprog program --mode flash --external --unprotect image.bin

  # GW1NSR-4C with a companion MCU firmware
  gowinprog program --mode flash --mcu-fw firmware.hex design.fs`,
	Args: cobra.ExactArgs(1),
	RunE: runProgram,
}

func init() {
	rootCmd.AddCommand(programCmd)

	addAdapterFlags(programCmd, 2500000)
	programCmd.Flags().StringVarP(&programMode, "mode", "m", "sram",
		"programming target (sram, flash)")
	programCmd.Flags().BoolVar(&externalFlash, "external", false,
		"target the external SPI flash instead of the internal one")
	programCmd.Flags().Uint32Var(&flashOffset, "offset", 0,
		"byte offset into the external flash")
	programCmd.Flags().BoolVar(&unprotect, "unprotect", false,
		"clear the external flash block protection before writing")
	programCmd.Flags().BoolVar(&verifyWrite, "verify", false,
		"read the flash back after writing and compare")
	programCmd.Flags().StringVar(&mcuFirmware, "mcu-fw", "",
		"companion MCU firmware image (GW1NSR-4C only)")
}

func runProgram(cmd *cobra.Command, args []string) error {
	var mode gowin.Mode
	switch programMode {
	case "sram", "mem":
		mode = gowin.ModeSRAM
	case "flash":
		mode = gowin.ModeFlash
	default:
		return fmt.Errorf("unknown mode %q (supported: sram, flash)", programMode)
	}

	image, err := bitstream.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", args[0], err)
	}

	cfg := gowin.Config{
		Bitstream:     image,
		Mode:          mode,
		ExternalFlash: externalFlash,
		Verify:        verifyWrite,
	}
	if mcuFirmware != "" {
		fw, err := bitstream.Load(mcuFirmware)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", mcuFirmware, err)
		}
		cfg.MCUFirmware = fw
	}

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	return dev.Program(flashOffset, unprotect)
}
