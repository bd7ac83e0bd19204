package cfbstore

import (
	"errors"
	"fmt"
	"io"
)

// Stream is a handle on a stream entry. It reads and writes through the
// compound file and stays valid until the entry is removed or the file is
// closed or reloaded; Shrink reloads the file.
type Stream struct {
	CompoundFile *CompoundFile

	StreamId uint32
	Position int64

	dirEntry   *DirEntry
	generation uint64
}

func newStream(comp *CompoundFile, streamId uint32) *Stream {
	return &Stream{
		CompoundFile: comp,
		StreamId:     streamId,
		Position:     0,
		dirEntry:     comp.Directory.DirEntries[streamId],
		generation:   comp.generation,
	}
}

// OpenStream returns a handle on the stream at path.
func (c *CompoundFile) OpenStream(path string) (*Stream, error) {
	streamId, clean, err := c.lookup(path)
	if err != nil {
		return nil, err
	}

	if c.Directory.DirEntries[streamId].ObjType != ObjStream {
		return nil, fmt.Errorf("%s: %w", clean, ErrorNotStream)
	}

	return newStream(c, streamId), nil
}

// ReadStream returns the whole content of the stream at path.
func (c *CompoundFile) ReadStream(path string) ([]byte, error) {
	stream, err := c.OpenStream(path)
	if err != nil {
		return nil, err
	}
	return stream.Data()
}

// SetStreamData replaces the content of the existing stream at path.
func (c *CompoundFile) SetStreamData(path string, data []byte) error {
	stream, err := c.OpenStream(path)
	if err != nil {
		return err
	}
	return stream.SetData(data)
}

// entry resolves the handle. A slot that was freed, or reused by another
// entry, no longer holds the entry the handle was opened on.
func (s *Stream) entry() (*DirEntry, error) {
	c := s.CompoundFile
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if s.generation != c.generation {
		return nil, fmt.Errorf("stream %q was opened before the file was reloaded: %w", s.dirEntry.Name, ErrorClosed)
	}

	entries := c.Directory.DirEntries
	if s.StreamId >= uint32(len(entries)) || entries[s.StreamId] != s.dirEntry {
		return nil, fmt.Errorf("stream %q (%v): %w", s.dirEntry.Name, s.StreamId, ErrorEntryNotFound)
	}
	return s.dirEntry, nil
}

func (s *Stream) writableEntry() (*DirEntry, error) {
	if err := s.CompoundFile.checkWritable(); err != nil {
		return nil, err
	}
	return s.entry()
}

func (s *Stream) Name() string {
	entry, err := s.entry()
	if err != nil {
		return ""
	}
	return entry.Name
}

func (s *Stream) Len() int64 {
	entry, err := s.entry()
	if err != nil {
		return 0
	}
	return int64(entry.StreamSize)
}

// ReadRange returns length bytes at offset; reading past the end of the
// stream fails with ErrorOutOfRange.
func (s *Stream) ReadRange(offset, length int64) ([]byte, error) {
	entry, err := s.entry()
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("negative range %v+%v: %w", offset, length, ErrorOutOfRange)
	}

	p := make([]byte, length)
	err = s.CompoundFile.readStream(entry, uint64(offset), p)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	entry, err := s.entry()
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if uint64(off) >= entry.StreamSize {
		return 0, io.EOF
	}

	n := int(min(uint64(len(p)), entry.StreamSize-uint64(off)))
	err = s.CompoundFile.readStream(entry, uint64(off), p[:n])
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.Position)
	s.Position += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// WriteAt overwrites the stream at off, extending it with zeros as needed.
func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	entry, err := s.writableEntry()
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, errors.New("negative offset")
	}

	err = s.CompoundFile.writeStream(entry, uint64(off), p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.WriteAt(p, s.Position)
	s.Position += int64(n)
	return n, err
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.Position + offset
	case io.SeekEnd:
		pos = s.Len() + offset
	default:
		return 0, fmt.Errorf("invalid whence %v", whence)
	}

	if pos < 0 {
		return 0, fmt.Errorf("negative position %v", pos)
	}

	s.Position = pos
	return pos, nil
}

// SetLen truncates or zero-extends the stream.
func (s *Stream) SetLen(size int64) error {
	entry, err := s.writableEntry()
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("negative size %v", size)
	}
	return s.CompoundFile.resizeStream(entry, uint64(size))
}

// SetData replaces the whole content of the stream.
func (s *Stream) SetData(data []byte) error {
	entry, err := s.writableEntry()
	if err != nil {
		return err
	}
	s.Position = 0
	return s.CompoundFile.setStreamData(entry, data)
}

func (s *Stream) Data() ([]byte, error) {
	entry, err := s.entry()
	if err != nil {
		return nil, err
	}

	p := make([]byte, entry.StreamSize)
	err = s.CompoundFile.readStream(entry, 0, p)
	if err != nil {
		return nil, err
	}
	return p, nil
}
