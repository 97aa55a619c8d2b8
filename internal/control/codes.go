package control

import (
	"fmt"
	"strconv"
)

// Magic is the command category byte.
const Magic = 'G'

// ParamSize is the size in bytes of the parameter record.
const ParamSize = 56

// Command directions, from the caller's point of view.
const (
	DirNone  = 0
	DirWrite = 1
	DirRead  = 2
)

// Bit layout of a command code: number, category, size, direction.
const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits
)

// Code is an encoded control command.
type Code uint32

// MakeCode encodes a command code.
func MakeCode(dir, typ, nr, size uint32) Code {
	return Code(dir<<dirShift | typ<<typeShift | nr<<nrShift | size<<sizeShift)
}

// Dir returns the direction bits.
func (c Code) Dir() uint32 { return uint32(c) >> dirShift }

// Type returns the category byte.
func (c Code) Type() uint32 { return uint32(c) >> typeShift & (1<<typeBits - 1) }

// Nr returns the command number.
func (c Code) Nr() uint32 { return uint32(c) >> nrShift & (1<<nrBits - 1) }

// Size returns the encoded parameter size.
func (c Code) Size() uint32 { return uint32(c) >> sizeShift & (1<<sizeBits - 1) }

// HasInput reports whether the command carries a parameter record in.
func (c Code) HasInput() bool { return c.Dir()&DirWrite != 0 }

// String returns the command name, or the raw code for unknown codes.
func (c Code) String() string {
	if nr := c.Nr(); c.Type() == Magic && int(nr) < len(commandTable) && commandTable[nr].code == c {
		return commandTable[nr].name
	}
	return fmt.Sprintf("0x%08x", uint32(c))
}

// Command numbers.
const (
	nrVersion   = 0
	nrDevCreate = 1
	nrDevRemove = 2
	nrDevStatus = 3
)

// Known commands.
var (
	CmdVersion   = MakeCode(DirRead, Magic, nrVersion, ParamSize)
	CmdDevCreate = MakeCode(DirRead|DirWrite, Magic, nrDevCreate, ParamSize)
	CmdDevRemove = MakeCode(DirWrite, Magic, nrDevRemove, ParamSize)
	CmdDevStatus = MakeCode(DirRead|DirWrite, Magic, nrDevStatus, ParamSize)
)

// ParseCommand resolves a command name (e.g. "DEV_CREATE") or a numeric
// code ("0xc0384701") to a Code.
func ParseCommand(s string) (Code, error) {
	for _, cmd := range commandTable {
		if cmd.name == s {
			return cmd.code, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return Code(n), nil
}
