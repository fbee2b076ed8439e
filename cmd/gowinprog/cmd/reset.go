package cmd

import (
	"fmt"

	"github.com/OpenTraceLab/gowinprog/pkg/gowin"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reload the device configuration",
	Long: `Issue a reload, the JTAG equivalent of toggling the RECONFIG pin. The device
reconfigures itself from flash if a valid image is present.`,
	RunE: runReset,
}

var mcuCmd = &cobra.Command{
	Use:   "mcu",
	Short: "Hand the JTAG chain over to the embedded MCU",
	Long: `Switch the JTAG pins from the FPGA fabric to the embedded MCU core
(GW1NSR-4C). The fabric stops answering until the next power cycle.`,
	RunE: runMCU,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(mcuCmd)
	addAdapterFlags(resetCmd, 2500000)
	addAdapterFlags(mcuCmd, 2500000)
}

func runReset(cmd *cobra.Command, args []string) error {
	dev, err := openDevice(gowin.Config{})
	if err != nil {
		return err
	}
	if err := dev.Reset(); err != nil {
		return err
	}
	fmt.Println("Device reloaded.")
	return nil
}

func runMCU(cmd *cobra.Command, args []string) error {
	dev, err := openDevice(gowin.Config{})
	if err != nil {
		return err
	}
	if !dev.Variant().MCUFirmwareAllowed {
		return fmt.Errorf("device %s has no MCU core", dev.Variant().Name)
	}
	if err := dev.ConnectMCUJTAG(); err != nil {
		return err
	}
	fmt.Println("JTAG chain handed over to the MCU core.")
	return nil
}
