package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gowinprog",
	Short: "Gowin FPGA JTAG programmer",
	Long: `Program Gowin LittleBee and Arora FPGAs over JTAG: load bitstreams into
configuration SRAM, write internal flash, or program an external SPI flash
through the device.

Examples:
  gowinprog info                                     # Probe the device and decode its status
  gowinprog program blink.fs                         # Load into SRAM (volatile)
  gowinprog program --mode flash blink.fs            # Program internal flash
  gowinprog program --mode flash --external blink.bin  # Program external SPI flash
  gowinprog program -a sim --sim-id 0x0900281B blink.fs  # Dry run against the simulator`,
	Version: "0.9.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
