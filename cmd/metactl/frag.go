package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/metakit/meta/bmap"
	"github.com/joshuapare/metakit/meta/inode"
)

var fragAttr bool

func init() {
	cmd := newFragCmd()
	cmd.Flags().BoolVar(&fragAttr, "attr", false, "Report the attribute fork instead of the data fork")
	rootCmd.AddCommand(cmd)
}

func newFragCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frag <image> <ino>",
		Short: "Report a file's fork fragmentation",
		Long: `The frag command reports how fragmented a file's fork is: extent
count against the format limit, mapped blocks, and average extent length.

Example:
  metactl frag meta.img 7
  metactl frag meta.img 7 --attr --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrag(args)
		},
	}
}

func runFrag(args []string) error {
	ino, err := parseIno(args[1])
	if err != nil {
		return err
	}
	fs, err := mountImage(args[0])
	if err != nil {
		return err
	}
	defer fs.Close()

	ip, err := inode.Load(fs.Image(), ino)
	if err != nil {
		return err
	}
	f := &ip.Data
	if fragAttr {
		f = &ip.Attr
	}

	limit := bmap.MaxExtents(fragAttr, ip.HasLargeExtents())
	blocks := f.Blocks()
	var avg float64
	if f.NExtents() > 0 {
		avg = float64(blocks) / float64(f.NExtents())
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"ino":          ino,
			"attr":         fragAttr,
			"format":       f.Format,
			"extents":      f.NExtents(),
			"extent_limit": limit,
			"blocks":       blocks,
			"avg_extent":   avg,
		})
	}
	printInfo("\nInode %d fork fragmentation:\n", ino)
	printInfo("  Extents: %d of %d allowed\n", f.NExtents(), limit)
	printInfo("  Blocks: %d mapped\n", blocks)
	printInfo("  Average extent: %.1f blocks\n", avg)
	return nil
}
