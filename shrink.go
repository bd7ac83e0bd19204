package cfbstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const copyChunkLen = 64 * 1024

// ShrinkFile rewrites the compound file at path so that it holds only live
// entries. The original is replaced only when the rewrite is smaller.
func ShrinkFile(path string, cfg Config) error {
	log := cfg.logger()

	src, err := Open(path, ReadOnly, cfg)
	if err != nil {
		return err
	}

	before, err := src.FileSize()
	if err != nil {
		_ = src.Close()
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".shrink-*")
	if err != nil {
		_ = src.Close()
		return ioError("create temporary file", err)
	}
	tmpPath := tmp.Name()

	var after int64
	out, err := src.compactInto(fileBacking{tmp})
	if err == nil {
		after, err = out.FileSize()
	}

	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = ioError("close "+tmpPath, closeErr)
	}
	if closeErr := src.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("shrink %s: %w", path, err)
	}

	if after >= before {
		_ = os.Remove(tmpPath)
		log.Debug("shrink kept original",
			zap.String("path", path),
			zap.Int64("size", before),
			zap.Int64("rewritten", after))
		return nil
	}

	info, err := os.Stat(path)
	if err == nil {
		err = os.Chmod(tmpPath, info.Mode().Perm())
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return ioError("replace "+path, err)
	}

	log.Debug("compound file shrunk",
		zap.String("path", path),
		zap.Int64("before", before),
		zap.Int64("after", after))
	return nil
}

// Shrink commits, then rewrites the file without the space left by removed
// entries and reopens it. If the rewrite fails after the file was closed the
// session is reopened on the untouched original when possible.
func (c *CompoundFile) Shrink() error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	err := c.Commit(true)
	if err != nil {
		return err
	}

	if c.path == "" {
		return c.shrinkBacking()
	}

	path, mode, cfg, generation := c.path, c.mode, c.cfg, c.generation
	err = c.Close()
	if err != nil {
		return err
	}

	shrinkErr := ShrinkFile(path, cfg)

	next, err := Open(path, mode, cfg)
	if err != nil {
		return errors.Join(shrinkErr, err)
	}
	next.generation = generation + 1
	*c = *next
	return shrinkErr
}

// shrinkBacking compacts a session that has no file path by building the
// image in memory and writing it over the backing storage.
func (c *CompoundFile) shrinkBacking() error {
	before, err := c.backing.Size()
	if err != nil {
		return ioError("stat", err)
	}

	image := NewMemBacking(nil)
	_, err = c.compactInto(image)
	if err != nil {
		return err
	}

	after := int64(len(image.Bytes()))
	if after >= before {
		return nil
	}

	err = writeImage(c.backing, image.Bytes(), c.Header.Version.SectorLen())
	if err != nil {
		return err
	}

	err = c.load()
	if err != nil {
		return err
	}

	c.log.Debug("compound file shrunk",
		zap.Int64("before", before),
		zap.Int64("after", after))
	return nil
}

// writeImage replaces the content of b with image, header last.
func writeImage(b Backing, image []byte, headerLen int) error {
	_, err := b.WriteAt(make([]byte, len(MAGIC_NUMBER)), 0)
	if err != nil {
		return ioError("invalidate header", err)
	}
	err = b.Sync()
	if err != nil {
		return ioError("sync", err)
	}

	_, err = b.WriteAt(image[headerLen:], int64(headerLen))
	if err != nil {
		return ioError("write image", err)
	}
	err = b.Truncate(int64(len(image)))
	if err != nil {
		return ioError("truncate", err)
	}
	err = b.Sync()
	if err != nil {
		return ioError("sync", err)
	}

	_, err = b.WriteAt(image[:headerLen], 0)
	if err != nil {
		return ioError("write header", err)
	}
	err = b.Sync()
	if err != nil {
		return ioError("sync", err)
	}
	return nil
}

// compactInto copies every live entry into a fresh file on dst, with
// sectors allocated contiguously.
func (c *CompoundFile) compactInto(dst Backing) (*CompoundFile, error) {
	err := dst.Truncate(0)
	if err != nil {
		return nil, ioError("truncate", err)
	}

	cfg := c.cfg
	cfg.Version = c.Header.Version
	cfg.SectorRecycle = false

	out, err := newCompoundFile(dst, cfg)
	if err != nil {
		return nil, err
	}

	srcRoot, dstRoot := c.Directory.RootDirEntry(), out.Directory.RootDirEntry()
	dstRoot.CLSID = srcRoot.CLSID
	dstRoot.StateBits = srcRoot.StateBits
	dstRoot.CreationTime = srcRoot.CreationTime
	dstRoot.ModifiedTime = srcRoot.ModifiedTime
	out.Header.TransactionSignature = c.Header.TransactionSignature

	err = c.copyChildren(out, ROOT_STREAM_ID, ROOT_STREAM_ID)
	if err != nil {
		return nil, err
	}

	err = out.flush()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CompoundFile) copyChildren(out *CompoundFile, from, to uint32) error {
	children, err := c.Directory.ListChildren(from)
	if err != nil {
		return err
	}

	for _, child := range children {
		src := c.Directory.DirEntries[child]

		entry := NewDirEntry(src.Name, src.ObjType, src.CreationTime)
		entry.ModifiedTime = src.ModifiedTime
		entry.CLSID = src.CLSID
		entry.StateBits = src.StateBits

		id, err := out.Directory.Insert(to, entry)
		if err != nil {
			return err
		}

		switch src.ObjType {
		case ObjStorage:
			err = c.copyChildren(out, child, id)
		case ObjStream:
			err = c.copyStream(out, src, entry)
		}
		if err != nil {
			return fmt.Errorf("copy %q: %w", src.Name, err)
		}
	}
	return nil
}

func (c *CompoundFile) copyStream(out *CompoundFile, src, dst *DirEntry) error {
	err := out.resizeStream(dst, src.StreamSize)
	if err != nil {
		return err
	}

	buf := make([]byte, min(src.StreamSize, copyChunkLen))
	for offset := uint64(0); offset < src.StreamSize; {
		n := min(src.StreamSize-offset, uint64(len(buf)))
		err = c.readStream(src, offset, buf[:n])
		if err != nil {
			return err
		}
		err = out.writeStream(dst, offset, buf[:n])
		if err != nil {
			return err
		}
		offset += n
	}

	// large streams should not pile up as dirty sectors
	if src.StreamSize >= uint64(MINI_STREAM_CUTOFF) {
		return out.Allocator.Sectors.Flush()
	}
	return nil
}

// DeleteAndReclaim removes path with everything below it and shrinks the
// file so the freed space is returned to the file system.
func (c *CompoundFile) DeleteAndReclaim(path string) error {
	err := c.RemoveAll(path)
	if err != nil {
		return err
	}
	return c.Shrink()
}

// EmptyStream replaces the stream at path with a new empty stream of the same
// name, reclaiming the space of the old content. The new stream is not
// committed.
func (c *CompoundFile) EmptyStream(path string) (*Stream, error) {
	_, err := c.OpenStream(path)
	if err != nil {
		return nil, err
	}

	err = c.DeleteAndReclaim(path)
	if err != nil {
		return nil, err
	}
	return c.CreateStream(path)
}
