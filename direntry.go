package cfbstore

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/google/uuid"
)

const (
	dirNameFieldLen = 64
	dirNameLenOff   = 64
	dirObjTypeOff   = 66
	dirColorOff     = 67
	dirLeftOff      = 68
	dirRightOff     = 72
	dirChildOff     = 76
	dirCLSIDOff     = 80
	dirStateOff     = 96
	dirCreatedOff   = 100
	dirModifiedOff  = 108
	dirStartOff     = 116
	dirSizeOff      = 120
)

type DirEntry struct {
	Name           string
	ObjType        ObjectType
	Color          Color
	LeftSibling    uint32
	RightSibling   uint32
	Child          uint32
	CLSID          uuid.UUID
	StateBits      uint32
	CreationTime   uint64
	ModifiedTime   uint64
	StartingSector uint32
	StreamSize     uint64
}

func NewDirEntry(name string, objType ObjectType, timestamp uint64) *DirEntry {
	dir := DirEntry{
		Name:         name,
		ObjType:      objType,
		Color:        Black,
		LeftSibling:  NO_STREAM,
		RightSibling: NO_STREAM,
		Child:        NO_STREAM,
		CLSID:        uuid.Nil,
		StateBits:    0,
		CreationTime: timestamp,
		ModifiedTime: timestamp,
		StreamSize:   0,
	}
	if objType == ObjStorage {
		dir.StartingSector = 0
	} else {
		dir.StartingSector = END_OF_CHAIN
	}

	return &dir
}

func newUnallocatedDirEntry() *DirEntry {
	return &DirEntry{
		ObjType:      ObjUnallocated,
		Color:        Red,
		LeftSibling:  NO_STREAM,
		RightSibling: NO_STREAM,
		Child:        NO_STREAM,
	}
}

func ReadDirEntry(buf []byte, version Version, validation Validation) (*DirEntry, error) {
	if len(buf) < DIR_ENTRY_LEN {
		return nil, fmt.Errorf("directory entry needs %v bytes, got %v: %w", DIR_ENTRY_LEN, len(buf), ErrorInvalidCFB)
	}
	le := binary.LittleEndian

	objType, ok := ObjectFromByte(buf[dirObjTypeOff])
	if !ok {
		if validation.IsStrict() {
			return nil, fmt.Errorf("invalid object type %v: %w", buf[dirObjTypeOff], ErrorInvalidCFB)
		}
		objType = ObjUnallocated
	}
	if objType == ObjUnallocated {
		return newUnallocatedDirEntry(), nil
	}

	nameLen := int(le.Uint16(buf[dirNameLenOff:]))
	if nameLen > dirNameFieldLen || nameLen%2 != 0 {
		if validation.IsStrict() {
			return nil, fmt.Errorf("invalid name length %v: %w", nameLen, ErrorInvalidCFB)
		}
		if nameLen > dirNameFieldLen {
			nameLen = dirNameFieldLen
		}
	}
	units := make([]uint16, 0, nameLen/2)
	for i := 0; i+1 < nameLen; i += 2 {
		u := le.Uint16(buf[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}

	color, ok := ColorFromByte(buf[dirColorOff])
	if !ok && validation.IsStrict() {
		return nil, fmt.Errorf("invalid color %v: %w", buf[dirColorOff], ErrorInvalidCFB)
	}

	dir := DirEntry{
		Name:           string(utf16.Decode(units)),
		ObjType:        objType,
		Color:          color,
		LeftSibling:    le.Uint32(buf[dirLeftOff:]),
		RightSibling:   le.Uint32(buf[dirRightOff:]),
		Child:          le.Uint32(buf[dirChildOff:]),
		StateBits:      le.Uint32(buf[dirStateOff:]),
		CreationTime:   le.Uint64(buf[dirCreatedOff:]),
		ModifiedTime:   le.Uint64(buf[dirModifiedOff:]),
		StartingSector: le.Uint32(buf[dirStartOff:]),
		StreamSize:     le.Uint64(buf[dirSizeOff:]) & version.SectorLenMask(),
	}
	copy(dir.CLSID[:], buf[dirCLSIDOff:dirCLSIDOff+16])

	if objType == ObjStorage {
		dir.StreamSize = 0
	}

	return &dir, nil
}

// bytes encodes the entry into its 128-byte on-disk form.
func (d *DirEntry) bytes(version Version) []byte {
	buf := make([]byte, DIR_ENTRY_LEN)
	le := binary.LittleEndian

	if d.ObjType != ObjUnallocated {
		units := utf16.Encode([]rune(d.Name))
		for i, u := range units {
			le.PutUint16(buf[i*2:], u)
		}
		le.PutUint16(buf[dirNameLenOff:], uint16((len(units)+1)*2))
	}

	buf[dirObjTypeOff] = d.ObjType.AsByte()
	buf[dirColorOff] = d.Color.AsByte()
	le.PutUint32(buf[dirLeftOff:], d.LeftSibling)
	le.PutUint32(buf[dirRightOff:], d.RightSibling)
	le.PutUint32(buf[dirChildOff:], d.Child)
	copy(buf[dirCLSIDOff:], d.CLSID[:])
	le.PutUint32(buf[dirStateOff:], d.StateBits)
	le.PutUint64(buf[dirCreatedOff:], d.CreationTime)
	le.PutUint64(buf[dirModifiedOff:], d.ModifiedTime)
	le.PutUint32(buf[dirStartOff:], d.StartingSector)
	le.PutUint64(buf[dirSizeOff:], d.StreamSize&version.SectorLenMask())

	return buf
}
