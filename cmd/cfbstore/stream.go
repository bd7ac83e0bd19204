package main

import (
	"errors"
	"io"
	"os"

	"github.com/asalih/cfbstore"
	"github.com/asalih/cfbstore/internal/textenc"
	"github.com/spf13/cobra"
)

var (
	catEncoding string

	putText     string
	putEncoding string
	putCreate   bool
)

var catCmd = &cobra.Command{
	Use:   "cat <file> <stream>",
	Short: "Write the content of a stream to stdout",
	Long: `Write the content of a stream to stdout. With --encoding the content is
decoded as text and printed as UTF-8.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(args[0], cfbstore.ReadOnly, func(comp *cfbstore.CompoundFile) error {
			data, err := comp.ReadStream(args[1])
			if err != nil {
				return err
			}

			if catEncoding == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			text, err := textenc.Decode(catEncoding, data)
			if err != nil {
				return err
			}
			cmd.Print(text)
			return nil
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put <file> <stream> [source]",
	Short: "Replace the content of a stream",
	Long: `Replace the content of a stream with the bytes of source, or of stdin
when source is omitted or "-". With --text the given string is encoded with
--encoding and stored instead.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := putData(cmd, args[2:])
		if err != nil {
			return err
		}

		return withFile(args[0], cfbstore.Update, func(comp *cfbstore.CompoundFile) error {
			err := comp.SetStreamData(args[1], data)
			if errors.Is(err, cfbstore.ErrorEntryNotFound) && putCreate {
				var stream *cfbstore.Stream
				stream, err = comp.CreateStream(args[1])
				if err == nil {
					err = stream.SetData(data)
				}
			}
			return err
		})
	},
}

var emptyCmd = &cobra.Command{
	Use:   "empty <file> <stream>",
	Short: "Drop the content of a stream and reclaim its space",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(args[0], cfbstore.Update, func(comp *cfbstore.CompoundFile) error {
			_, err := comp.EmptyStream(args[1])
			return err
		})
	},
}

func init() {
	catCmd.Flags().StringVarP(&catEncoding, "encoding", "e", "", "decode the stream as text: "+encodingNames())

	putCmd.Flags().StringVarP(&putText, "text", "t", "", "store this text instead of reading source")
	putCmd.Flags().StringVarP(&putEncoding, "encoding", "e", textenc.Default, "encoding of --text: "+encodingNames())
	putCmd.Flags().BoolVar(&putCreate, "create", false, "create the stream when it does not exist")
}

func putData(cmd *cobra.Command, source []string) ([]byte, error) {
	if cmd.Flags().Changed("text") {
		return textenc.Encode(putEncoding, putText)
	}

	if len(source) == 0 || source[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(source[0])
}

func encodingNames() string {
	names := ""
	for i, name := range textenc.Names() {
		if i > 0 {
			names += ", "
		}
		names += name
	}
	return names
}
