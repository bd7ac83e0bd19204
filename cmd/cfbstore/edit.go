package main

import (
	"github.com/asalih/cfbstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	rmRecursive bool
	rmReclaim   bool
)

var createCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "Create an empty compound file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		comp, err := cfbstore.Create(args[0], cfg)
		if err != nil {
			return err
		}
		return comp.Close()
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <file> <storage>",
	Short: "Create a storage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(args[0], cfbstore.Update, func(comp *cfbstore.CompoundFile) error {
			return comp.CreateStorage(args[1])
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <file> <path>",
	Short: "Remove a stream or storage",
	Long: `Remove a stream or an empty storage. Freed sectors stay in the file
until it is shrunk; --reclaim shrinks right away.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(args[0], cfbstore.Update, func(comp *cfbstore.CompoundFile) error {
			switch {
			case rmReclaim:
				return comp.DeleteAndReclaim(args[1])
			case rmRecursive:
				return comp.RemoveAll(args[1])
			default:
				return comp.Remove(args[1])
			}
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <file> <path> <new-name>",
	Short: "Rename an entry within its storage",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(args[0], cfbstore.Update, func(comp *cfbstore.CompoundFile) error {
			return comp.Rename(args[1], args[2])
		})
	},
}

var shrinkCmd = &cobra.Command{
	Use:   "shrink <file>",
	Short: "Rewrite a file without the space of removed entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		before, err := fileSize(args[0], cfg)
		if err != nil {
			return err
		}

		err = cfbstore.ShrinkFile(args[0], cfg)
		if err != nil {
			return err
		}

		after, err := fileSize(args[0], cfg)
		if err != nil {
			return err
		}

		cfg.Logger.Info("shrink finished", zap.String("file", args[0]),
			zap.Int64("before", before), zap.Int64("after", after))
		cmd.Printf("%d -> %d bytes\n", before, after)
		return nil
	},
}

func init() {
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "remove storages with their content")
	rmCmd.Flags().BoolVar(&rmReclaim, "reclaim", false, "remove recursively and shrink the file")
}

func fileSize(path string, cfg cfbstore.Config) (int64, error) {
	comp, err := cfbstore.Open(path, cfbstore.ReadOnly, cfg)
	if err != nil {
		return 0, err
	}
	defer comp.Close()

	return comp.FileSize()
}
