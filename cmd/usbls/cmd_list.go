package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freemyipod/go-usb1/pkg/usb1"
	"github.com/freemyipod/go-usb1/pkg/usbids"
)

var listVerbose bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected USB devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := usb1.NewContext()
		if err != nil {
			return err
		}
		defer ctx.Close()

		ids, err := usbids.Load()
		if err != nil {
			return err
		}
		devices, err := ctx.GetDeviceList(true)
		if err != nil {
			return err
		}
		for _, dev := range devices {
			fmt.Printf("%s %s\n", dev, ids.Describe(dev.VendorID(), dev.ProductID()))
			if listVerbose {
				printDescriptors(dev)
			}
			dev.Close()
		}
		return nil
	},
}

func printDescriptors(dev *usb1.Device) {
	fmt.Printf("  %s, bcdUSB %04x, %d configuration(s)\n", dev.Speed(), dev.USBVersion(), dev.NumConfigurations())
	for _, config := range dev.Configurations() {
		fmt.Printf("  Configuration %d: attributes %02x, max power %d mA\n",
			config.ConfigurationValue(), config.Attributes(), config.MaxPower())
		for _, iface := range config.Interfaces() {
			for _, setting := range iface.Settings() {
				fmt.Printf("    Interface %d alt %d: class %02x/%02x proto %02x\n",
					setting.Number(), setting.AlternateSetting(),
					setting.Class(), setting.SubClass(), setting.Protocol())
				for _, ep := range setting.Endpoints() {
					fmt.Printf("      Endpoint %02x: %s, %d bytes, interval %d\n",
						ep.Address(), ep.TransferType(), ep.MaxPacketSize(), ep.Interval())
				}
			}
		}
	}
}
