package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:   "usbls",
	Short: "usbls lists and watches USB devices",
	Long: `Enumerates USB devices with their descriptors, and follows devices being
plugged and unplugged, using the go-usb1 bindings.`,
	SilenceUsage: true,
}

func main() {
	listCmd.Flags().BoolVarP(&listVerbose, "descriptors", "d", false, "Print configuration and endpoint descriptors")
	watchCmd.Flags().BoolVarP(&watchExisting, "existing", "e", false, "Also report devices already connected")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(watchCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}
