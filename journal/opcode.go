package journal

import "fmt"

// Op is a journal operation code. On disk its sign says whether the record
// was written before or after the operation ran.
type Op int32

const (
	OpDebug Op = iota
	OpMount
	OpRemount
	OpUmount
	OpOverflow
	OpRecover
	OpTooBig
	OpMeta
	OpMknod
	OpMkdir
	OpLink
	OpSymlink
	OpCreate
	OpDelete
	OpRmdir
	OpOpen
	OpWrite
	OpCommit
	OpClose
	OpMove
	OpSwap
	OpSetACL
	OpSetXattr
	OpDelXattr
	OpUserlog
	opMax
)

type opShape struct {
	name  string
	files int
	data  DataType
}

// opShapes gives the fixed name count and payload type of each operation.
// DEBUG records carry a message and a source file name.
var opShapes = [opMax]opShape{
	OpDebug:    {"DEBUG", 2, DataNone},
	OpMount:    {"MOUNT", 1, DataNone},
	OpRemount:  {"REMOUNT", 1, DataNone},
	OpUmount:   {"UMOUNT", 0, DataNone},
	OpOverflow: {"OVERFLOW", 0, DataNone},
	OpRecover:  {"RECOVER", 0, DataSize},
	OpTooBig:   {"TOO_BIG", 0, DataSize},
	OpMeta:     {"META", 1, DataAttr},
	OpMknod:    {"MKNOD", 1, DataAttr},
	OpMkdir:    {"MKDIR", 1, DataAttr},
	OpLink:     {"LINK", 2, DataNone},
	OpSymlink:  {"SYMLINK", 2, DataAttr},
	OpCreate:   {"CREATE", 1, DataAttr},
	OpDelete:   {"DELETE", 1, DataNone},
	OpRmdir:    {"RMDIR", 1, DataNone},
	OpOpen:     {"OPEN", 1, DataFileID},
	OpWrite:    {"WRITE", 0, DataRegion},
	OpCommit:   {"COMMIT", 0, DataFileID},
	OpClose:    {"CLOSE", 0, DataFileID},
	OpMove:     {"MOVE", 2, DataNone},
	OpSwap:     {"SWAP", 2, DataNone},
	OpSetACL:   {"SET_ACL", 1, DataACL},
	OpSetXattr: {"SET_XATTR", 1, DataXattr},
	OpDelXattr: {"DEL_XATTR", 1, DataXattr},
	OpUserlog:  {"USER_LOG", 1, DataNone},
}

// Valid reports whether o is a known operation.
func (o Op) Valid() bool { return o >= 0 && o < opMax }

func (o Op) String() string {
	if !o.Valid() {
		return fmt.Sprintf("op#%d", int32(o))
	}
	return opShapes[o].name
}

// Files returns how many names a record of this operation carries.
func (o Op) Files() int {
	if !o.Valid() {
		return 0
	}
	return opShapes[o].files
}

// DataType returns the payload type usually attached to the operation.
func (o Op) DataType() DataType {
	if !o.Valid() {
		return DataNone
	}
	return opShapes[o].data
}

// OpByName looks up an operation by its journal name.
func OpByName(name string) (Op, bool) {
	for o := OpDebug; o < opMax; o++ {
		if opShapes[o].name == name {
			return o, true
		}
	}
	return 0, false
}
