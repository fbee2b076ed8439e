package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/gowinprog/pkg/gowin"
	"github.com/OpenTraceLab/gowinprog/pkg/jtag"
	"github.com/spf13/cobra"
)

var (
	adapterType string
	simIDCode   string
	clockFreq   int
)

// createAdapter creates the appropriate JTAG adapter based on type
func createAdapter() (jtag.Adapter, error) {
	switch adapterType {
	case "simulator", "sim":
		if verbose {
			fmt.Println("Using simulator adapter")
		}
		id, err := parseHex32(simIDCode)
		if err != nil {
			return nil, fmt.Errorf("invalid --sim-id: %w", err)
		}
		sim := jtag.NewSimAdapter(jtag.AdapterInfo{
			Name:         "Gowin TAP Simulator",
			Vendor:       "gowinprog",
			Model:        "Sim-1.0",
			Firmware:     "v0.9.0",
			MinFrequency: 100,
			MaxFrequency: 10000000, // 10 MHz
		})
		sim.OnShift = gowin.NewSimulator(id).Hook()
		return sim, nil

	case "cmsisdap", "cmsis", "dap":
		if verbose {
			fmt.Println("Opening CMSIS-DAP probe...")
		}
		adapter, err := jtag.NewCMSISDAPAdapter(jtag.VendorIDRaspberryPi, jtag.ProductIDCMSISDAP)
		if err != nil {
			return nil, fmt.Errorf("failed to open CMSIS-DAP probe: %w", err)
		}
		if verbose {
			info, _ := adapter.Info()
			fmt.Printf("Connected to: %s %s\n", info.Vendor, info.Model)
			fmt.Printf("  Serial: %s\n", info.SerialNumber)
			fmt.Printf("  Firmware: %s\n", info.Firmware)
		}
		return adapter, nil

	default:
		return nil, fmt.Errorf("unknown adapter type: %s (supported: simulator, cmsisdap)", adapterType)
	}
}

// openDevice builds the full stack: adapter, TAP controller, device driver.
func openDevice(cfg gowin.Config) (*gowin.Device, error) {
	adapter, err := createAdapter()
	if err != nil {
		return nil, err
	}
	port, err := jtag.NewController(adapter, clockFreq)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize TAP: %w", err)
	}
	cfg.Verbose = verbose
	dev, err := gowin.New(port, cfg)
	if err != nil {
		return nil, err
	}
	if verbose {
		v := dev.Variant()
		if v.Name != "" {
			fmt.Printf("Detected %s (idcode 0x%08X)\n", v.Name, v.IDCode)
		} else {
			fmt.Printf("Unknown device, idcode 0x%08X\n", v.IDCode)
		}
	}
	return dev, nil
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// addAdapterFlags registers the shared adapter/transport flags on a command.
func addAdapterFlags(c *cobra.Command, defaultFreq int) {
	c.Flags().StringVarP(&adapterType, "adapter", "a", "cmsisdap",
		"JTAG adapter type (simulator, cmsisdap)")
	c.Flags().StringVar(&simIDCode, "sim-id", "0x0900281B",
		"simulator: IDCODE of the emulated device")
	c.Flags().IntVar(&clockFreq, "freq", defaultFreq,
		"TCK frequency in Hz")
}
