package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// FormatOutput formats the metadata summary according to output format
func FormatOutput(w io.Writer, response *Response, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(response)
	case "table":
		return formatTable(w, response)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func formatTable(out io.Writer, response *Response) error {
	fmt.Fprintf(out, "Device: %s (slot %s)\n", response.Device, response.Slot)
	for _, bd := range response.BlockDevices {
		fmt.Fprintf(out, "Block device: %s, %s\n", bd.Name, humanize.IBytes(bd.Size))
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "GROUP\tPARTITION\tSIZE\tEXTENTS\tATTRIBUTES\n")
	fmt.Fprintf(w, "-----\t---------\t----\t-------\t----------\n")
	for _, g := range response.Groups {
		limit := "unlimited"
		if g.MaxSize > 0 {
			limit = humanize.IBytes(g.MaxSize)
		}
		fmt.Fprintf(w, "%s\t\t%s / %s\t\t\n", g.Name, humanize.IBytes(g.GroupSize()), limit)
		for _, p := range g.Partitions {
			fmt.Fprintf(w, "\t%s\t%s\t%d\t%s\n", p.Name, humanize.IBytes(p.Size), p.Extents, strings.Join(p.Attributes, ","))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nUsed %s of %s, %s free\n",
		humanize.IBytes(response.Used), humanize.IBytes(response.Allocatable), humanize.IBytes(response.Free))
	return nil
}
