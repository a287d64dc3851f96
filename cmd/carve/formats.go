package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/tetsuo/carve/formats"
)

var cmdFormats = &cobra.Command{
	Use:   "formats",
	Short: "List the decoders in the order they run",
	Args:  cobra.NoArgs,
	Run:   listFormats,
}

func init() {
	cmd.AddCommand(cmdFormats)
}

func listFormats(*cobra.Command, []string) {
	printFormats(os.Stdout)
}

func printFormats(w io.Writer) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Decoder", "Step", "Probe", "Signature"})
	tw.SetAutoWrapText(false)
	tw.SetBorder(false)
	for _, name := range formats.Names {
		d := formats.Decoder(name)
		if d == nil {
			tw.Append([]string{name, "-", "-", "(text runs)"})
			continue
		}
		pattern, opts := d.Signature()
		opts = opts.WithDefaults()
		tw.Append([]string{name, fmt.Sprint(opts.Step), fmt.Sprint(opts.ProbeSize), pattern.String()})
	}
	tw.Render()
}
