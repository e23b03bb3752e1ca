// Package frame contains data structures and
// related functions for parsing and searching
// through Dwarf .debug_frame and .eh_frame data.
package frame

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/hitzhangjie/dumpsyms/pkg/dwarf/util"
)

type parsefunc func(*parseContext) parsefunc

// parseContext context which helps parsing the CIE and FDEs stored in
// .debug_frame or .eh_frame
type parseContext struct {
	staticBase  uint64
	order       binary.ByteOrder
	ptrSize     int
	eh          bool
	sectionAddr uint64

	data []byte
	buf  *bytes.Buffer

	entries FrameDescriptionEntries
	cies    map[uint64]*CommonInformationEntry
	common  *CommonInformationEntry
	frame   *FrameDescriptionEntry

	// body of the entry being parsed and its offset in the section
	body    []byte
	bodyOff uint64
}

// Parse takes in data (a byte slice) and returns FrameDescriptionEntries,
// which is a slice of FrameDescriptionEntry. Each FrameDescriptionEntry
// has a pointer to CommonInformationEntry. Entries are sorted by start
// address.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int) FrameDescriptionEntries {
	return parse(&parseContext{
		data:       data,
		order:      order,
		staticBase: staticBase,
		ptrSize:    ptrSize,
	})
}

// ParseEH is Parse for an .eh_frame section loaded at sectionAddr. CIE ids
// are zero, CIE pointers are relative, and addresses use the pointer
// encodings named by each CIE's augmentation.
func ParseEH(data []byte, order binary.ByteOrder, sectionAddr uint64, ptrSize int) FrameDescriptionEntries {
	return parse(&parseContext{
		data:        data,
		order:       order,
		ptrSize:     ptrSize,
		eh:          true,
		sectionAddr: sectionAddr,
	})
}

func parse(ctx *parseContext) FrameDescriptionEntries {
	ctx.buf = bytes.NewBuffer(ctx.data)
	ctx.entries = newFrameDescriptionEntries()
	ctx.cies = map[uint64]*CommonInformationEntry{}

	for fn := parselength; fn != nil; {
		fn = fn(ctx)
	}

	for i := range ctx.entries {
		ctx.entries[i].order = ctx.order
	}
	sort.SliceStable(ctx.entries, func(i, j int) bool {
		return ctx.entries[i].begin < ctx.entries[j].begin
	})

	return ctx.entries
}

// offset returns the section offset of the next unread byte.
func (ctx *parseContext) offset() uint64 {
	return uint64(len(ctx.data) - ctx.buf.Len())
}

// parselength parse the length and id of a CIE or FDE
func parselength(ctx *parseContext) parsefunc {
	start := ctx.offset()

	length, err := util.ReadUintRaw(ctx.buf, ctx.order, 4)
	if err != nil {
		return nil
	}
	if length == 0 {
		// ZERO terminator
		return parselength
	}

	idSize := 4
	if length == 0xffffffff {
		// 64-bit DWARF
		if length, err = util.ReadUintRaw(ctx.buf, ctx.order, 8); err != nil {
			return nil
		}
		idSize = 8
	}
	if length > uint64(ctx.buf.Len()) || length < uint64(idSize) {
		return nil
	}

	idOff := ctx.offset()
	entry := ctx.buf.Next(int(length))
	id, _ := util.ReadUintRaw(bytes.NewReader(entry), ctx.order, idSize)

	ctx.body = entry[idSize:]
	ctx.bodyOff = idOff + uint64(idSize)

	if ctx.cieEntry(id, idSize) {
		ctx.common = &CommonInformationEntry{
			Length:     uint32(length),
			staticBase: ctx.staticBase,
			offset:     start,
		}
		ctx.cies[start] = ctx.common
		ctx.frame = nil
		return parseCIE
	}

	cieOff := id
	if ctx.eh {
		// .eh_frame CIE pointers count back from the pointer itself
		cieOff = idOff - id
	}
	cie, ok := ctx.cies[cieOff]
	if !ok || cie.unsupported {
		return parselength
	}

	ctx.frame = &FrameDescriptionEntry{Length: uint32(length), CIE: cie}
	return parseFDE
}

// cieEntry determines if id marks a CIE
func (ctx *parseContext) cieEntry(id uint64, idSize int) bool {
	if ctx.eh {
		return id == 0
	}
	if idSize == 8 {
		return id == 0xffffffffffffffff
	}
	return id == 0xffffffff
}

// parseFDE parse FDE entry
func parseFDE(ctx *parseContext) parsefunc {
	buf := bytes.NewBuffer(ctx.body)
	cie := ctx.frame.CIE

	begin, ok := ctx.readPointer(buf, cie.ptrEncoding, true)
	if !ok {
		return parselength
	}
	size, ok := ctx.readPointer(buf, cie.ptrEncoding&0x0f, false)
	if !ok {
		return parselength
	}
	ctx.frame.begin = begin + ctx.staticBase
	ctx.frame.size = size

	if cie.hasAugmentationData {
		n, _ := util.DecodeULEB128(buf)
		if n > uint64(buf.Len()) {
			return parselength
		}
		buf.Next(int(n))
	}

	// parsing instructions of FDE
	ctx.frame.Instructions = buf.Bytes()
	ctx.entries = append(ctx.entries, ctx.frame)

	// prepare to parse next FDE or CIE
	return parselength
}

// parseCIE parse CIE entry
func parseCIE(ctx *parseContext) parsefunc {
	buf := bytes.NewBuffer(ctx.body)
	cie := ctx.common
	cie.ptrEncoding = ptrEncodingAbs
	cie.addressSize = ctx.ptrSize

	// parse version
	cie.Version, _ = buf.ReadByte()

	// parse augmentation
	cie.Augmentation, _ = util.ParseString(buf)

	if !ctx.eh && cie.Version >= 4 {
		size, _ := buf.ReadByte()
		segment, _ := buf.ReadByte()
		if segment != 0 {
			cie.unsupported = true
			return parselength
		}
		cie.addressSize = int(size)
	}

	// parse code alignment factor
	cie.CodeAlignmentFactor, _ = util.DecodeULEB128(buf)

	// parse data alignment factor
	cie.DataAlignmentFactor, _ = util.DecodeSLEB128(buf)

	// parse return address register
	if cie.Version == 1 {
		r, _ := buf.ReadByte()
		cie.ReturnAddressRegister = uint64(r)
	} else {
		cie.ReturnAddressRegister, _ = util.DecodeULEB128(buf)
	}

	if !ctx.parseAugmentation(buf) {
		cie.unsupported = true
		return parselength
	}

	// The rest of this entry consists of the initial instructions.
	cie.InitialInstructions = buf.Bytes()

	// prepare to parse FDEs following this CIE
	return parselength
}

// parseAugmentation reads the augmentation data the CIE's augmentation
// string announces. It reports false for augmentations it cannot skip.
func (ctx *parseContext) parseAugmentation(buf *bytes.Buffer) bool {
	cie := ctx.common
	aug := cie.Augmentation
	if aug == "" {
		return true
	}
	if aug[0] != 'z' {
		return false
	}

	n, _ := util.DecodeULEB128(buf)
	if n > uint64(buf.Len()) {
		return false
	}
	data := bytes.NewBuffer(buf.Next(int(n)))
	cie.hasAugmentationData = true

	for _, c := range aug[1:] {
		switch c {
		case 'R':
			enc, err := data.ReadByte()
			if err != nil {
				return false
			}
			cie.ptrEncoding = enc
		case 'L':
			if _, err := data.ReadByte(); err != nil {
				return false
			}
		case 'P':
			enc, err := data.ReadByte()
			if err != nil {
				return false
			}
			// the personality routine is read only to step over it
			if _, ok := ctx.readPointer(data, enc&^ptrEncodingIndirect, false); !ok {
				return false
			}
		case 'S':
			cie.SignalFrame = true
		default:
			// the length prefix lets the rest be skipped
			return true
		}
	}
	return true
}

// Pointer encodings of .eh_frame (DW_EH_PE_*).
const (
	ptrEncodingAbs      = 0x00
	ptrEncodingULEB     = 0x01
	ptrEncodingUData2   = 0x02
	ptrEncodingUData4   = 0x03
	ptrEncodingUData8   = 0x04
	ptrEncodingSLEB     = 0x09
	ptrEncodingSData2   = 0x0a
	ptrEncodingSData4   = 0x0b
	ptrEncodingSData8   = 0x0c
	ptrEncodingPCRel    = 0x10
	ptrEncodingIndirect = 0x80
	ptrEncodingOmit     = 0xff
)

// readPointer reads a value in encoding enc. .debug_frame always uses
// absolute pointers of the CIE's address size. applyBase selects whether
// pc-relative encodings are resolved; ranges are never relative.
func (ctx *parseContext) readPointer(buf *bytes.Buffer, enc byte, applyBase bool) (uint64, bool) {
	if enc == ptrEncodingOmit {
		return 0, false
	}
	if enc&ptrEncodingIndirect != 0 {
		return 0, false
	}

	fieldOff := ctx.bodyOff + uint64(len(ctx.body)-buf.Len())

	size := ctx.ptrSize
	if ctx.common != nil && ctx.common.addressSize != 0 {
		size = ctx.common.addressSize
	}
	if ctx.frame != nil && ctx.frame.CIE != nil && ctx.frame.CIE.addressSize != 0 {
		size = ctx.frame.CIE.addressSize
	}

	var (
		v   uint64
		err error
	)
	switch enc & 0x0f {
	case ptrEncodingAbs:
		v, err = util.ReadUintRaw(buf, ctx.order, size)
	case ptrEncodingULEB:
		v, _ = util.DecodeULEB128(buf)
	case ptrEncodingUData2:
		v, err = util.ReadUintRaw(buf, ctx.order, 2)
	case ptrEncodingUData4:
		v, err = util.ReadUintRaw(buf, ctx.order, 4)
	case ptrEncodingUData8:
		v, err = util.ReadUintRaw(buf, ctx.order, 8)
	case ptrEncodingSLEB:
		s, _ := util.DecodeSLEB128(buf)
		v = uint64(s)
	case ptrEncodingSData2:
		v, err = util.ReadUintRaw(buf, ctx.order, 2)
		v = uint64(int64(int16(v)))
	case ptrEncodingSData4:
		v, err = util.ReadUintRaw(buf, ctx.order, 4)
		v = uint64(int64(int32(v)))
	case ptrEncodingSData8:
		v, err = util.ReadUintRaw(buf, ctx.order, 8)
	default:
		return 0, false
	}
	if err != nil {
		return 0, false
	}

	if !applyBase {
		return v, true
	}
	switch enc & 0x70 {
	case 0:
	case ptrEncodingPCRel:
		v += ctx.sectionAddr + fieldOff
	default:
		// text, data and function relative bases are not known here
		return 0, false
	}
	return v, true
}
