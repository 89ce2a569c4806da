package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/freemyipod/go-usb1/pkg/usb1"
	"github.com/freemyipod/go-usb1/pkg/usbids"
)

var infoCmd = &cobra.Command{
	Use:   "info [vid:pid]",
	Short: "Show details of one device",
	Long:  "Opens the first device matching the given vendor:product pair and prints its descriptors and strings.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vid, pid, err := parseDeviceID(args[0])
		if err != nil {
			return err
		}

		ctx, err := usb1.NewContext()
		if err != nil {
			return err
		}
		defer ctx.Close()

		handle, err := ctx.OpenByVendorIDAndProductID(vid, pid)
		if err != nil {
			return err
		}
		if handle == nil {
			return fmt.Errorf("no device %04x:%04x connected", vid, pid)
		}
		defer handle.Close()

		dev := handle.Device()
		ids, err := usbids.Load()
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", dev, ids.Describe(vid, pid))
		fmt.Printf("  Speed: %s\n", dev.Speed())
		fmt.Printf("  USB version: %04x, device version: %04x\n", dev.USBVersion(), dev.DeviceVersion())
		fmt.Printf("  Class: %02x/%02x/%02x, ep0 max packet: %d\n",
			dev.Class(), dev.SubClass(), dev.Protocol(), dev.MaxPacketSize0())
		if ports, err := dev.PortNumbers(); err == nil {
			fmt.Printf("  Port chain: %v\n", ports)
		}

		for _, s := range []struct {
			name string
			get  func() (string, error)
		}{
			{"Manufacturer", handle.Manufacturer},
			{"Product", handle.Product},
			{"Serial", handle.SerialNumber},
		} {
			value, err := s.get()
			if err != nil {
				glog.V(1).Infof("Could not read %s string: %v", s.name, err)
				continue
			}
			if value != "" {
				fmt.Printf("  %s: %s\n", s.name, value)
			}
		}

		printDescriptors(dev)
		return nil
	},
}

func parseDeviceID(s string) (uint16, uint16, error) {
	vid, pid, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, fmt.Errorf("device id must be vid:pid")
	}
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vendor id %q", vid)
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product id %q", pid)
	}
	return uint16(v), uint16(p), nil
}
