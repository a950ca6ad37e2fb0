package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/AnEntrypoint/A2F/internal/blendshape"
)

var layoutJSON bool

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Print the model output layout and blendshape names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printLayout(cmd.OutOrStdout(), cfg.Model.GetLayout(), layoutJSON)
	},
}

func init() {
	layoutCmd.Flags().BoolVar(&layoutJSON, "json", false, "print as JSON")
}

func printLayout(w io.Writer, layout blendshape.OutputLayout, asJSON bool) error {
	if asJSON {
		out, err := sonic.ConfigStd.MarshalIndent(map[string]interface{}{
			"layout": layout,
			"width":  layout.Width(),
			"names":  blendshape.Names,
		}, "", "  ")
		if err != nil {
			return err
		}
		return writeLine(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tOFFSET\tSIZE")
	for _, r := range []struct {
		name   string
		region blendshape.Region
	}{
		{"skin", layout.Skin},
		{"tongue", layout.Tongue},
		{"jaw", layout.Jaw},
		{"eyes", layout.Eyes},
	} {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", r.name, r.region.Offset, r.region.Size)
	}
	fmt.Fprintf(tw, "width\t\t%d\n", layout.Width())
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "INDEX\tBLENDSHAPE")
	for i, name := range blendshape.Names {
		fmt.Fprintf(tw, "%d\t%s\n", i, name)
	}
	return tw.Flush()
}
