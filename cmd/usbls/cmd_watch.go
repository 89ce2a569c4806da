package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/freemyipod/go-usb1/pkg/usb1"
	"github.com/freemyipod/go-usb1/pkg/usbids"
)

var watchExisting bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow device arrivals and departures",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := usb1.HasCapability(usb1.CapHasHotplug)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("this platform has no hotplug support")
		}

		ctx, err := usb1.NewContext()
		if err != nil {
			return err
		}
		defer ctx.Close()

		ids, err := usbids.Load()
		if err != nil {
			return err
		}

		var opts []usb1.HotplugOption
		if watchExisting {
			opts = append(opts, usb1.WithHotplugEnumerate())
		}
		reg, err := ctx.RegisterHotplugCallback(func(_ *usb1.Context, dev *usb1.Device, event usb1.HotplugEvent) bool {
			sign := "+"
			if event == usb1.HotplugEventDeviceLeft {
				sign = "-"
			}
			fmt.Printf("%s %s %s\n", sign, dev, ids.Describe(dev.VendorID(), dev.ProductID()))
			return false
		}, opts...)
		if err != nil {
			return err
		}
		defer reg.Deregister()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt)
		done := make(chan struct{})
		go func() {
			<-stop
			close(done)
			// Kick the event loop out of its blocking wait.
			if err := ctx.InterruptEventHandler(); err != nil {
				glog.Errorf("Could not interrupt event handling: %v", err)
			}
		}()

		glog.Infof("Watching for hotplug events, ^C to stop")
		for {
			select {
			case <-done:
				return nil
			default:
			}
			if err := ctx.HandleEvents(); err != nil {
				return err
			}
		}
	},
}
