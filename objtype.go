package cfbstore

type ObjectType int

const (
	ObjUnallocated ObjectType = iota
	ObjStorage
	ObjStream
	ObjRoot
)

func (o ObjectType) AsByte() byte {
	switch o {
	case ObjUnallocated:
		return OBJ_TYPE_UNALLOCATED
	case ObjStorage:
		return OBJ_TYPE_STORAGE
	case ObjStream:
		return OBJ_TYPE_STREAM
	case ObjRoot:
		return OBJ_TYPE_ROOT
	default:
		return 0
	}
}

func (o ObjectType) String() string {
	switch o {
	case ObjStorage:
		return "storage"
	case ObjStream:
		return "stream"
	case ObjRoot:
		return "root"
	default:
		return "unallocated"
	}
}

// ObjectFromByte reports false for bytes that name no object type.
func ObjectFromByte(b byte) (ObjectType, bool) {
	switch b {
	case OBJ_TYPE_UNALLOCATED:
		return ObjUnallocated, true
	case OBJ_TYPE_STORAGE:
		return ObjStorage, true
	case OBJ_TYPE_STREAM:
		return ObjStream, true
	case OBJ_TYPE_ROOT:
		return ObjRoot, true
	default:
		return ObjUnallocated, false
	}
}
