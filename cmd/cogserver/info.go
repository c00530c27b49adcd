package main

import (
	"fmt"
	"io"
	"os"

	"github.com/airbusgeo/cogserver"
	"github.com/spf13/cobra"
)

func newInfoCommand() *cobra.Command {
	var segments bool
	cmd := &cobra.Command{
		Use:   "info dataset",
		Short: "print the layout of the virtual cog of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := openDataset(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			defer ds.Close()
			printInfo(os.Stdout, args[0], ds, segments)
			return nil
		},
	}
	cmd.Flags().BoolVar(&segments, "segments", false, "list every segment of the file")
	return cmd
}

func printInfo(w io.Writer, arg string, ds *cogserver.Dataset, segments bool) {
	meta := ds.Metadata()
	l := ds.Layout()
	kind := "classic"
	if l.BigTIFF {
		kind = "bigtiff"
	}
	fmt.Fprintf(w, "source:    %s\n", arg)
	fmt.Fprintf(w, "path:      /%s\n", datasetName(arg))
	fmt.Fprintf(w, "raster:    %dx%d, %d bands of %v\n", meta.Width, meta.Height, meta.Bands, meta.DataType)
	fmt.Fprintf(w, "tiling:    %dx%d, %dx%d tiles\n", meta.TileWidth, meta.TileHeight, l.TilesAcross, l.TilesDown)
	fmt.Fprintf(w, "container: %s, %d bytes\n", kind, l.TotalLength)
	fmt.Fprintf(w, "header:    [0,%d)\n", l.HeaderLength)
	fmt.Fprintf(w, "directory: [%d,%d)\n", l.DirectoryOffset, l.DirectoryOffset+l.DirectoryLength)
	fmt.Fprintf(w, "data:      [%d,%d)\n", l.DataOffset, l.TotalLength)
	if !segments {
		return
	}
	for _, e := range ds.Index().Segments() {
		fmt.Fprintf(w, "%-12v %12d %12d\n", e.Segment, e.Offset, e.Length)
	}
}
