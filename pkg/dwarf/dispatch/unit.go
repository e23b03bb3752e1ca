package dispatch

import (
	"encoding/binary"
	"fmt"
)

// ErrUnitHeader malformed .debug_info unit header
type ErrUnitHeader struct {
	Offset uint64
	Reason string
}

func (err *ErrUnitHeader) Error() string {
	return fmt.Sprintf("bad unit header at offset %#x: %s", err.Offset, err.Reason)
}

// UnitHeader header of one unit in .debug_info
//
// see DWARFv4 7.5.1.1 compilation unit header
type UnitHeader struct {
	Offset      uint64 // offset of the unit_length field
	Length      uint64 // value of unit_length, excluding the field itself
	Version     uint16
	OffsetSize  uint8 // 4 for 32-bit DWARF, 8 for 64-bit DWARF
	AddressSize uint8
}

// End returns the offset of the first byte past the unit.
func (h *UnitHeader) End() uint64 {
	if h.OffsetSize == 8 {
		return h.Offset + 12 + h.Length
	}
	return h.Offset + 4 + h.Length
}

// ReadUnitHeaders scans every unit header in the .debug_info section info.
func ReadUnitHeaders(info []byte, order binary.ByteOrder) ([]UnitHeader, error) {
	var headers []UnitHeader

	for off := uint64(0); off < uint64(len(info)); {
		h := UnitHeader{Offset: off, OffsetSize: 4}
		rest := info[off:]

		if len(rest) < 4 {
			return headers, &ErrUnitHeader{Offset: off, Reason: "truncated unit length"}
		}
		h.Length = uint64(order.Uint32(rest))
		rest = rest[4:]
		if h.Length == 0xffffffff {
			if len(rest) < 8 {
				return headers, &ErrUnitHeader{Offset: off, Reason: "truncated 64-bit unit length"}
			}
			h.Length = order.Uint64(rest)
			h.OffsetSize = 8
			rest = rest[8:]
		}
		if h.End() > uint64(len(info)) || h.End() <= off {
			return headers, &ErrUnitHeader{Offset: off, Reason: "unit extends past end of section"}
		}
		if len(rest) < 2 {
			return headers, &ErrUnitHeader{Offset: off, Reason: "truncated version"}
		}
		h.Version = order.Uint16(rest)
		rest = rest[2:]

		// DWARF 5 moved address_size in front of debug_abbrev_offset.
		if h.Version >= 5 {
			if len(rest) < 2 {
				return headers, &ErrUnitHeader{Offset: off, Reason: "truncated header"}
			}
			h.AddressSize = rest[1]
		} else {
			if len(rest) < int(h.OffsetSize)+1 {
				return headers, &ErrUnitHeader{Offset: off, Reason: "truncated header"}
			}
			h.AddressSize = rest[h.OffsetSize]
		}

		headers = append(headers, h)
		off = h.End()
	}

	return headers, nil
}
