package prepare

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// FormatOutput formats preparation results according to output format
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
	fmt.Fprintf(out, "Slots: %s -> %s (dynamic partitions: %s, virtual A/B: %s)\n",
		response.Source, response.Target, response.DynamicPartitions, response.VirtualAB)

	if !response.DynamicTarget {
		fmt.Fprintln(out, "Package does not use dynamic partitions; target metadata unchanged.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "GROUP\tPARTITION\tSIZE\n")
	fmt.Fprintf(w, "-----\t---------\t----\n")
	for _, g := range response.Groups {
		fmt.Fprintf(w, "%s\t\t%s\n", g.Name, humanize.IBytes(g.Size))
		for _, p := range g.Partitions {
			fmt.Fprintf(w, "\t%s\t%s\n", p.Name, humanize.IBytes(p.Size))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nTotal group size %s", humanize.IBytes(response.TotalSize()))
	if response.Updated {
		fmt.Fprintf(out, ", target slot updated")
	}
	if response.SnapshotEnabled {
		fmt.Fprintf(out, ", snapshots enabled")
	}
	fmt.Fprintf(out, " in %v\n", response.Duration)
	return nil
}
