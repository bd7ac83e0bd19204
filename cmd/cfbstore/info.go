package main

import (
	"github.com/asalih/cfbstore"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type headerInfo struct {
	Version        int    `yaml:"version"`
	SectorLen      int    `yaml:"sector_len"`
	FileSize       int64  `yaml:"file_size"`
	FatSectors     uint32 `yaml:"fat_sectors"`
	DifatSectors   uint32 `yaml:"difat_sectors"`
	MinifatSectors uint32 `yaml:"minifat_sectors"`
	FirstDirSector uint32 `yaml:"first_dir_sector"`
	FatEntries     int    `yaml:"fat_entries"`
	MinifatEntries int    `yaml:"minifat_entries"`
}

type entryInfo struct {
	Name     string       `yaml:"name"`
	Type     string       `yaml:"type"`
	Size     uint64       `yaml:"size,omitempty"`
	CLSID    string       `yaml:"clsid,omitempty"`
	Children []*entryInfo `yaml:"children,omitempty"`
}

type fileInfo struct {
	Header headerInfo `yaml:"header"`
	Root   *entryInfo `yaml:"root"`
}

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Print the header and entry tree as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(args[0], cfbstore.ReadOnly, func(comp *cfbstore.CompoundFile) error {
			size, err := comp.FileSize()
			if err != nil {
				return err
			}

			header := comp.Header
			info := fileInfo{
				Header: headerInfo{
					Version:        int(header.Version),
					SectorLen:      header.Version.SectorLen(),
					FileSize:       size,
					FatSectors:     header.NumFatSectors,
					DifatSectors:   header.NumDifatSectors,
					MinifatSectors: header.NumMinifatSectors,
					FirstDirSector: header.FirstDirSector,
					FatEntries:     comp.Allocator.Len(),
					MinifatEntries: comp.MiniAlloc.Len(),
				},
			}

			info.Root, err = describe(comp, comp.RootEntry())
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(info); err != nil {
				return err
			}
			return enc.Close()
		})
	},
}

func describe(comp *cfbstore.CompoundFile, entry *cfbstore.Entry) (*entryInfo, error) {
	info := &entryInfo{
		Name: entry.Name,
		Type: entry.ObjType.String(),
	}
	if entry.IsStream() {
		info.Size = entry.StreamLen
		return info, nil
	}
	if entry.CLSID != uuid.Nil {
		info.CLSID = entry.CLSID.String()
	}

	children, err := comp.ReadDir(entry.Path)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		childInfo, err := describe(comp, child)
		if err != nil {
			return nil, err
		}
		info.Children = append(info.Children, childInfo)
	}
	return info, nil
}
