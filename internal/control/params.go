package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/nerrad567/cdp-core/internal/device"
)

// Field offsets within the parameter record.
const (
	offName       = 0
	offHost       = device.NameLen
	offRepository = offHost + 8
	offMetadata   = offRepository + 8
)

// Pair is a signed major/minor pair as carried on the wire.
type Pair struct {
	Major int32 `json:"major"`
	Minor int32 `json:"minor"`
}

// DevNum converts a validated pair.
func (p Pair) DevNum() device.DevNum {
	return device.DevNum{Major: uint32(p.Major), Minor: uint32(p.Minor)}
}

func (p Pair) valid() bool {
	return p.Major > 0 && p.Minor >= 0
}

// Record is the decoded parameter record: a NUL-terminated name followed
// by three little-endian major/minor pairs for the host, repository and
// metadata stores.
type Record struct {
	Name       string `json:"name"`
	Host       Pair   `json:"host"`
	Repository Pair   `json:"repository"`
	Metadata   Pair   `json:"metadata"`
}

// MarshalBinary encodes the record. Names longer than 31 bytes are rejected.
func (r Record) MarshalBinary() ([]byte, error) {
	if len(r.Name) >= device.NameLen {
		return nil, fmt.Errorf("%w: name longer than %d bytes", ErrInvalidArgument, device.NameLen-1)
	}
	b := make([]byte, ParamSize)
	copy(b[offName:offHost], r.Name)
	putPair(b[offHost:], r.Host)
	putPair(b[offRepository:], r.Repository)
	putPair(b[offMetadata:], r.Metadata)
	return b, nil
}

func putPair(b []byte, p Pair) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(p.Major))
	binary.LittleEndian.PutUint32(b[4:8], uint32(p.Minor))
}

func getPair(b []byte) Pair {
	return Pair{
		Major: int32(binary.LittleEndian.Uint32(b[0:4])),
		Minor: int32(binary.LittleEndian.Uint32(b[4:8])),
	}
}

// paramBuf is the process-owned copy of one caller's record.
type paramBuf struct {
	raw [ParamSize]byte
	rec Record
}

var paramPool = sync.Pool{
	New: func() any { return new(paramBuf) },
}

// copyIn copies exactly ParamSize bytes from src. The name is forcibly
// terminated at its last byte before decoding.
func (p *paramBuf) copyIn(src []byte) error {
	if len(src) < ParamSize {
		return fmt.Errorf("%w: %d of %d bytes", ErrTransferFault, len(src), ParamSize)
	}
	copy(p.raw[:], src[:ParamSize])
	p.raw[device.NameLen-1] = 0

	name := p.raw[offName:offHost]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	p.rec = Record{
		Name:       string(name),
		Host:       getPair(p.raw[offHost:]),
		Repository: getPair(p.raw[offRepository:]),
		Metadata:   getPair(p.raw[offMetadata:]),
	}
	return nil
}

func (p *paramBuf) reset() {
	clear(p.raw[:])
	p.rec = Record{}
}
