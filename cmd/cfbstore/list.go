package main

import (
	"strconv"

	"github.com/asalih/cfbstore"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var lsLong bool

var lsCmd = &cobra.Command{
	Use:   "ls <file> [storage]",
	Short: "List the children of a storage",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 2 {
			path = args[1]
		}

		return withFile(args[0], cfbstore.ReadOnly, func(comp *cfbstore.CompoundFile) error {
			entries, err := comp.ReadDir(path)
			if err != nil {
				return err
			}

			if !lsLong {
				for _, entry := range entries {
					cmd.Println(entry.Name)
				}
				return nil
			}

			printEntries(cmd, entries)
			return nil
		})
	},
}

var streamsCmd = &cobra.Command{
	Use:   "streams <file>",
	Short: "List the path of every stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(args[0], cfbstore.ReadOnly, func(comp *cfbstore.CompoundFile) error {
			paths, err := comp.ListStreams()
			if err != nil {
				return err
			}
			for _, path := range paths {
				cmd.Println(path)
			}
			return nil
		})
	},
}

func init() {
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "show type, size, CLSID and modification time")
}

func printEntries(cmd *cobra.Command, entries []*cfbstore.Entry) {
	out := tablewriter.NewWriter(cmd.OutOrStdout())
	out.SetHeader([]string{"Name", "Type", "Size", "CLSID", "Modified"})
	out.SetAutoWrapText(false)
	out.SetBorder(false)

	for _, entry := range entries {
		size := ""
		if entry.IsStream() {
			size = strconv.FormatUint(entry.StreamLen, 10)
		}
		modified := ""
		if t := entry.Modified(); !t.IsZero() {
			modified = t.Format("2006-01-02 15:04:05")
		}
		out.Append([]string{
			entry.Name,
			entry.ObjType.String(),
			size,
			entry.CLSID.String(),
			modified,
		})
	}

	out.Render()
}
