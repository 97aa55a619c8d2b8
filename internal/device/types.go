package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/cdp-core/internal/minor"
)

// NameLen is the size of the name field in the control record, terminator included.
const NameLen = 32

// State is a device lifecycle state. Transitions only move forward.
type State int

// Lifecycle states, in order.
const (
	StateConstructing State = iota
	StateActive
	StateDeleting
	StateReclaiming
	StateFreed
)

var stateNames = [...]string{
	StateConstructing: "constructing",
	StateActive:       "active",
	StateDeleting:     "deleting",
	StateReclaiming:   "reclaiming",
	StateFreed:        "freed",
}

// String returns the lowercase state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("device: unknown state %q", text)
}

// DevNum is a major/minor pair naming a backing block device.
type DevNum struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

// Dev returns the encoded dev_t.
func (n DevNum) Dev() uint64 {
	return unix.Mkdev(n.Major, n.Minor)
}

// DevNumFromDev decodes a dev_t.
func DevNumFromDev(dev uint64) DevNum {
	return DevNum{Major: unix.Major(dev), Minor: unix.Minor(dev)}
}

func (n DevNum) String() string {
	return fmt.Sprintf("%d:%d", n.Major, n.Minor)
}

// ParseDevNum parses the "major:minor" form produced by String.
func ParseDevNum(s string) (DevNum, error) {
	majStr, minStr, ok := strings.Cut(s, ":")
	if !ok {
		return DevNum{}, fmt.Errorf("device number %q: want major:minor", s)
	}
	maj, err := strconv.ParseUint(majStr, 10, 32)
	if err != nil {
		return DevNum{}, fmt.Errorf("device number %q: major: %w", s, err)
	}
	mnr, err := strconv.ParseUint(minStr, 10, 32)
	if err != nil {
		return DevNum{}, fmt.Errorf("device number %q: minor: %w", s, err)
	}
	return DevNum{Major: uint32(maj), Minor: uint32(mnr)}, nil
}

// Spec is the validated input for creating a device.
type Spec struct {
	Name       string `json:"name"`
	Host       DevNum `json:"host"`
	Repository DevNum `json:"repository"`
	Metadata   DevNum `json:"metadata"`
}

// BackingInfo describes a device's backing resources for status output.
type BackingInfo struct {
	Kind  string `json:"kind"`
	Queue int    `json:"queue"`
	Disk  string `json:"disk"`
	PID   int    `json:"pid,omitempty"`
}

// Backing is the queue and disk descriptor owned by a device.
// Release is called exactly once, during teardown or create unwind.
type Backing interface {
	Describe() BackingInfo
	Release(ctx context.Context) error
}

// Handle names one incarnation of a device. A handle taken before a
// remove and re-create of the same minor no longer resolves.
type Handle struct {
	Minor      minor.Minor `json:"minor"`
	Generation uint64      `json:"generation"`
}

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.Minor, h.Generation)
}

// Info is a point-in-time snapshot of a device.
type Info struct {
	Name       string      `json:"name"`
	Minor      minor.Minor `json:"minor"`
	Generation uint64      `json:"generation"`
	State      State       `json:"state"`
	OpenCount  int         `json:"open_count"`
	Holders    int         `json:"holders"`
	Host       DevNum      `json:"host"`
	Repository DevNum      `json:"repository"`
	Metadata   DevNum      `json:"metadata"`
	Backing    BackingInfo `json:"backing"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Handle returns the checked handle for the snapshot's incarnation.
func (i Info) Handle() Handle {
	return Handle{Minor: i.Minor, Generation: i.Generation}
}

// DrainPolicy bounds how long WaitQuiescent polls for holders to drain.
type DrainPolicy struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}
