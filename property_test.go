package cfbstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func propertyParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	if testing.Short() {
		parameters.MinSuccessfulTests = 5
	}
	return parameters
}

// streamLen spans both sides of the mini stream cutoff.
func streamLen() gopter.Gen {
	return gen.OneGenOf(
		gen.IntRange(0, 300),
		gen.IntRange(int(MINI_STREAM_CUTOFF)-70, int(MINI_STREAM_CUTOFF)+70),
		gen.IntRange(0, 20000),
	)
}

func TestStreamProperties(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("set data then read returns the data", prop.ForAll(
		func(n int, seed byte) bool {
			comp, backing, err := newPropertyFile()
			if err != nil {
				return false
			}

			data := seeded(n, seed)
			stream, err := comp.CreateStream("Contents")
			if err != nil || stream.SetData(data) != nil {
				return false
			}

			got, err := stream.ReadRange(0, int64(len(data)))
			if err != nil || !bytes.Equal(got, data) {
				return false
			}

			if comp.Commit(false) != nil || comp.Close() != nil {
				return false
			}
			comp, err = OpenBacking(backing, ReadOnly, DefaultConfig())
			if err != nil {
				return false
			}
			got, err = comp.ReadStream("Contents")
			return err == nil && bytes.Equal(got, data)
		},
		streamLen(),
		gen.UInt8(),
	))

	properties.Property("resizing across the cutoff preserves content", prop.ForAll(
		func(sizes []int, seed byte) bool {
			comp, _, err := newPropertyFile()
			if err != nil {
				return false
			}
			stream, err := comp.CreateStream("Contents")
			if err != nil {
				return false
			}

			want := []byte{}
			for i, size := range sizes {
				if size > len(want) {
					chunk := seeded(size-len(want), seed+byte(i))
					if _, err := stream.WriteAt(chunk, int64(len(want))); err != nil {
						return false
					}
					want = append(want, chunk...)
				} else if stream.SetLen(int64(size)) != nil {
					return false
				} else {
					want = want[:size]
				}

				got, err := stream.Data()
				if err != nil || !bytes.Equal(got, want) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, streamLen()),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

func TestShrinkProperties(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())
	dir := t.TempDir()
	run := 0

	properties.Property("shrink keeps names and content and never grows the file", prop.ForAll(
		func(sizes []int, removed []bool) bool {
			run++
			path := filepath.Join(dir, fmt.Sprintf("shrink%d.cfb", run))
			defer os.Remove(path)

			comp, err := Create(path, DefaultConfig())
			if err != nil {
				return false
			}

			want := map[string][]byte{}
			for i, size := range sizes {
				name := fmt.Sprintf("s%d", i)
				data := seeded(size, byte(i))
				stream, err := comp.CreateStream(name)
				if err != nil || stream.SetData(data) != nil {
					return false
				}
				want[name] = data
			}
			if comp.Commit(false) != nil {
				return false
			}
			for i, remove := range removed {
				name := fmt.Sprintf("s%d", i)
				if _, ok := want[name]; ok && remove {
					if comp.Remove(name) != nil {
						return false
					}
					delete(want, name)
				}
			}

			before, err := comp.FileSize()
			if err != nil || comp.Shrink() != nil {
				return false
			}
			defer comp.Close()

			after, err := comp.FileSize()
			if err != nil || after > before {
				return false
			}

			children, err := comp.ListChildren("/")
			if err != nil || len(children) != len(want) {
				return false
			}
			for name, data := range want {
				got, err := comp.ReadStream(name)
				if err != nil || !bytes.Equal(got, data) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, streamLen()),
		gen.SliceOfN(5, gen.Bool()),
	))

	properties.TestingRun(t)
}

func newPropertyFile() (*CompoundFile, *MemBacking, error) {
	backing := NewMemBacking(nil)
	comp, err := CreateBacking(backing, DefaultConfig())
	return comp, backing, err
}

func seeded(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed ^ byte(i) ^ byte(i>>8)
	}
	return data
}
