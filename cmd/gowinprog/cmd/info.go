package cmd

import (
	"fmt"

	"github.com/OpenTraceLab/gowinprog/pkg/gowin"
	"github.com/OpenTraceLab/gowinprog/pkg/idcode"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Probe the device and decode its status",
	Long: `Read the IDCODE, user code and status register of the connected device and
print them with every status flag decoded.

Examples:
  gowinprog info
  gowinprog info -a sim --sim-id 0x0100981B`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	addAdapterFlags(infoCmd, 2500000)
}

func runInfo(cmd *cobra.Command, args []string) error {
	dev, err := openDevice(gowin.Config{})
	if err != nil {
		return err
	}

	id, err := dev.IDCode()
	if err != nil {
		return err
	}
	parsed := idcode.Parse(id)
	v := dev.Variant()

	fmt.Printf("IDCODE:       0x%08X\n", id)
	if v.Name != "" {
		fmt.Printf("Family:       %s\n", v.Name)
	}
	mfg, _ := idcode.LookupManufacturer(parsed.ManufacturerCode)
	fmt.Printf("Manufacturer: %s\n", mfg.Name)
	fmt.Printf("Part Number:  0x%04X\n", parsed.PartNumber)
	fmt.Printf("Version:      %d\n", parsed.Version)

	ucode, err := dev.ReadUserCode()
	if err != nil {
		return err
	}
	fmt.Printf("User Code:    0x%08X\n", ucode)

	status, err := dev.ReadStatusReg()
	if err != nil {
		return err
	}
	fmt.Printf("Status:       0x%08X\n", status)
	for _, name := range gowin.DecodeStatus(status) {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
