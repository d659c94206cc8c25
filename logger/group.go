package logger

import "strings"

// Group is a coarse tag attached to a debug-level log call for
// filtering, §GLOSSARY "debug group".
type Group uint8

const (
	GroupCommon Group = 1 << iota
	GroupEvent
	GroupPacket
	GroupObject
	GroupLibusb
)

// GroupAll is the union of every recognized group.
const GroupAll = GroupCommon | GroupEvent | GroupPacket | GroupObject | GroupLibusb

func (g Group) String() string {
	switch g {
	case GroupCommon:
		return "common"
	case GroupEvent:
		return "event"
	case GroupPacket:
		return "packet"
	case GroupObject:
		return "object"
	case GroupLibusb:
		return "libusb"
	default:
		return "group"
	}
}

// groupKeyword resolves a debug-filter rule name against the reserved
// keyword set. "all" resolves to the union of every group. Matching is
// case-insensitive, per the filter grammar in §6.
func groupKeyword(name string) (Group, bool) {
	switch strings.ToLower(name) {
	case "common":
		return GroupCommon, true
	case "event":
		return GroupEvent, true
	case "packet":
		return GroupPacket, true
	case "object":
		return GroupObject, true
	case "libusb":
		return GroupLibusb, true
	case "all":
		return GroupAll, true
	default:
		return 0, false
	}
}
