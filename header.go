package cfbstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type Header struct {
	Version              Version
	NumDirSectors        uint32
	NumFatSectors        uint32
	FirstDirSector       uint32
	TransactionSignature uint32
	FirstMinifatSector   uint32
	NumMinifatSectors    uint32
	FirstDifatSector     uint32
	NumDifatSectors      uint32

	InitialDifatEntries []uint32
}

const (
	reservedAfterMagicNumber = 16
	reservedAfterMiniShift   = 6
)

func newHeader(version Version) *Header {
	return &Header{
		Version:            version,
		FirstDirSector:     END_OF_CHAIN,
		FirstMinifatSector: END_OF_CHAIN,
		FirstDifatSector:   END_OF_CHAIN,
	}
}

func (h *Header) readFrom(reader io.ReadSeeker, validation Validation) error {
	magicPart := make([]byte, len(MAGIC_NUMBER))
	_, err := io.ReadFull(reader, magicPart)
	if err != nil {
		return err
	}

	if !bytes.Equal(magicPart, MAGIC_NUMBER) {
		return ErrorInvalidCFB
	}

	// seek reserved field
	_, err = reader.Seek(reservedAfterMagicNumber, io.SeekCurrent)
	if err != nil {
		return err
	}

	var minorVersion uint16
	err = binary.Read(reader, binary.LittleEndian, &minorVersion)
	if err != nil {
		return err
	}
	if validation.IsStrict() && minorVersion != MINOR_VERSION {
		return fmt.Errorf("unexpected minor version 0x%04X: %w", minorVersion, ErrorInvalidCFB)
	}

	var versionNumber uint16
	err = binary.Read(reader, binary.LittleEndian, &versionNumber)
	if err != nil {
		return err
	}

	var byteOrderMark uint16
	err = binary.Read(reader, binary.LittleEndian, &byteOrderMark)
	if err != nil {
		return err
	}

	if byteOrderMark != BYTE_ORDER_MARK {
		return fmt.Errorf("invalid CFB byte order mark (expected 0x%04X, found 0x%04X): %w", BYTE_ORDER_MARK, byteOrderMark, ErrorInvalidCFB)
	}

	version, err := VersionNumber(versionNumber)
	if err != nil {
		return err
	}

	var sectorShift uint16
	err = binary.Read(reader, binary.LittleEndian, &sectorShift)
	if err != nil {
		return err
	}
	if sectorShift != version.SectorShift() {
		return fmt.Errorf("incorrect sector shift for CFB version %v (expected %v, found %v): %w",
			version, version.SectorShift(), sectorShift, ErrorInvalidCFB)
	}

	var miniSectorShift uint16
	err = binary.Read(reader, binary.LittleEndian, &miniSectorShift)
	if err != nil {
		return err
	}
	if miniSectorShift != MINI_SECTOR_SHIFT {
		return fmt.Errorf("incorrect mini sector shift (expected %v, found %v): %w", MINI_SECTOR_SHIFT, miniSectorShift, ErrorInvalidCFB)
	}

	// seek reserved field
	_, err = reader.Seek(reservedAfterMiniShift, io.SeekCurrent)
	if err != nil {
		return err
	}

	fields := []*uint32{&h.NumDirSectors, &h.NumFatSectors, &h.FirstDirSector, &h.TransactionSignature}
	for _, f := range fields {
		err = binary.Read(reader, binary.LittleEndian, f)
		if err != nil {
			return err
		}
	}

	if version == V3 && h.NumDirSectors != 0 && validation.IsStrict() {
		return fmt.Errorf("version 3 header has %v directory sectors: %w", h.NumDirSectors, ErrorInvalidCFB)
	}

	var miniStreamCutoff uint32
	err = binary.Read(reader, binary.LittleEndian, &miniStreamCutoff)
	if err != nil {
		return err
	}
	if miniStreamCutoff != MINI_STREAM_CUTOFF {
		return fmt.Errorf("incorrect mini stream cutoff (expected %v, found %v): %w", MINI_STREAM_CUTOFF, miniStreamCutoff, ErrorInvalidCFB)
	}

	fields = []*uint32{&h.FirstMinifatSector, &h.NumMinifatSectors, &h.FirstDifatSector, &h.NumDifatSectors}
	for _, f := range fields {
		err = binary.Read(reader, binary.LittleEndian, f)
		if err != nil {
			return err
		}
	}

	// Some CFB implementations use FREE_SECTOR to indicate END_OF_CHAIN.
	if h.FirstDifatSector == FREE_SECTOR {
		h.FirstDifatSector = END_OF_CHAIN
	}
	if h.FirstMinifatSector == FREE_SECTOR {
		h.FirstMinifatSector = END_OF_CHAIN
	}

	h.InitialDifatEntries = make([]uint32, 0, NUM_DIFAT_ENTRIES_IN_HEADER)
	for i := 0; i < NUM_DIFAT_ENTRIES_IN_HEADER; i++ {
		var next uint32
		err = binary.Read(reader, binary.LittleEndian, &next)
		if err != nil {
			return err
		}

		if next == FREE_SECTOR {
			break
		}
		if next > MAX_REGULAR_SECTOR {
			return fmt.Errorf("invalid DIFAT entry %v in header: %w", next, ErrorInvalidCFB)
		}
		h.InitialDifatEntries = append(h.InitialDifatEntries, next)
	}

	h.Version = version
	return nil
}

// bytes encodes the header into a full header sector for its version.
func (h *Header) bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, h.Version.SectorLen()))
	le := func(v interface{}) {
		// writes into a bytes.Buffer of fixed-size values cannot fail
		_ = binary.Write(buf, binary.LittleEndian, v)
	}

	buf.Write(MAGIC_NUMBER)
	buf.Write(make([]byte, reservedAfterMagicNumber))
	le(MINOR_VERSION)
	le(uint16(h.Version))
	le(BYTE_ORDER_MARK)
	le(h.Version.SectorShift())
	le(MINI_SECTOR_SHIFT)
	buf.Write(make([]byte, reservedAfterMiniShift))
	le(h.NumDirSectors)
	le(h.NumFatSectors)
	le(h.FirstDirSector)
	le(h.TransactionSignature)
	le(MINI_STREAM_CUTOFF)
	le(h.FirstMinifatSector)
	le(h.NumMinifatSectors)
	le(h.FirstDifatSector)
	le(h.NumDifatSectors)

	for i := 0; i < NUM_DIFAT_ENTRIES_IN_HEADER; i++ {
		if i < len(h.InitialDifatEntries) {
			le(h.InitialDifatEntries[i])
		} else {
			le(FREE_SECTOR)
		}
	}

	out := buf.Bytes()
	return append(out, make([]byte, h.Version.SectorLen()-len(out))...)
}
