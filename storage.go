package cfbstore

import (
	"io"
	"os"
)

// Backing is the random-access byte storage a compound file lives in.
type Backing interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Size() (int64, error)
}

type fileBacking struct {
	*os.File
}

func (f fileBacking) Size() (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// MemBacking keeps a compound file in memory.
type MemBacking struct {
	data []byte
}

// NewMemBacking wraps data; the slice is owned by the returned value.
func NewMemBacking(data []byte) *MemBacking {
	return &MemBacking{data: data}
}

func (m *MemBacking) Bytes() []byte {
	return m.data
}

func (m *MemBacking) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemBacking) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		if end > int64(cap(m.data)) {
			grown := make([]byte, end, end+end/4)
			copy(grown, m.data)
			m.data = grown
		} else {
			old := len(m.data)
			m.data = m.data[:end]
			clear(m.data[old:])
		}
	}
	return copy(m.data[off:], p), nil
}

func (m *MemBacking) Truncate(size int64) error {
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	_, err := m.WriteAt(make([]byte, size-int64(len(m.data))), int64(len(m.data)))
	return err
}

func (m *MemBacking) Sync() error {
	return nil
}

func (m *MemBacking) Size() (int64, error) {
	return int64(len(m.data)), nil
}

// readFull reads len(p) bytes at off, zero filling whatever lies past the end.
func readFull(b Backing, p []byte, off int64) error {
	n, err := b.ReadAt(p, off)
	if err == io.EOF {
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		return nil
	}
	return err
}
