package symbol

import (
	"bytes"
	"compress/zlib"
	"context"
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/highwayhash"
	"github.com/pkg/errors"
	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/hitzhangjie/dumpsyms/pkg/dwarf/dispatch"
	"github.com/hitzhangjie/dumpsyms/pkg/dwarf/line"
	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// Options control what Load reads and how it reports problems.
type Options struct {
	// CFI reads .debug_frame and .eh_frame into stack frame entries.
	CFI bool

	// UncoveredWarnings reports functions without lines and lines without
	// functions.
	UncoveredWarnings bool

	// Logger receives the warnings; nil means slog.Default().
	Logger *slog.Logger

	// Tally, if set, counts the warnings.
	Tally *Tally
}

// Load reads the ELF file at filename and returns its module.
func Load(filename string, opts Options) (*module.Module, error) {
	f, err := elf.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	defer f.Close()

	return LoadELF(filepath.Base(filename), f, opts)
}

// LoadURL is Load for a file named by an afs URL (file://, mem://, s3://
// and so on).
func LoadURL(ctx context.Context, fs afs.Service, URL string, opts Options) (*module.Module, error) {
	content, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "download %s", URL)
	}

	f, err := elf.NewFile(bytes.NewReader(content))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", URL)
	}
	defer f.Close()

	return LoadELF(path.Base(url.Path(URL)), f, opts)
}

// LoadELF builds the module of f, whose file name is name: its functions
// and lines from the DWARF, its externs from the symbol table and, if
// asked, its stack frame entries from the call frame information.
func LoadELF(name string, f *elf.File, opts Options) (*module.Module, error) {
	arch, err := archName(f)
	if err != nil {
		return nil, &ErrUnsupportedMachine{File: name, Machine: f.Machine.String()}
	}

	sections, err := readSections(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read sections of %s", name)
	}

	m := module.New(name, "Linux", arch, moduleID(f, sections))
	m.SetLoadAddress(loadAddress(f))

	data, err := f.DWARF()
	if err != nil {
		return nil, &ErrNoDebugInfo{File: name}
	}

	fc := NewFileContext(name, m)
	for secName, contents := range sections {
		fc.AddSection(secName, contents)
	}

	newReporter := func(cuOffset uint64) WarningReporter {
		lr := NewLogReporter(opts.Logger, fc, cuOffset)
		lr.SetUncoveredWarnings(opts.UncoveredWarnings)
		if opts.Tally == nil {
			return lr
		}
		return NewCountingReporter(lr, opts.Tally)
	}
	if err := ReadDWARF(fc, data, sections[".debug_info"], f.ByteOrder, newReporter); err != nil {
		return nil, errors.Wrapf(err, "read DWARF of %s", name)
	}
	fc.ClearSections()

	readExterns(m, f)

	if opts.CFI {
		ReadCFI(m, CFISections{
			DebugFrame:  sections[".debug_frame"],
			EHFrame:     sections[".eh_frame"],
			EHFrameAddr: sectionAddr(f, ".eh_frame"),
			Order:       f.ByteOrder,
			PtrSize:     ptrSize(f),
		})
	}

	return m, nil
}

// ReadDWARF walks every compilation unit of data, whose .debug_info
// section is info, and adds their functions to the module of fc. Units
// are handled one after the other; newReporter supplies each unit's
// reporter.
func ReadDWARF(fc *FileContext, data *dwarf.Data, info []byte, order binary.ByteOrder, newReporter func(cuOffset uint64) WarningReporter) error {
	d, err := dispatch.New(data, info, order)
	if err != nil {
		return err
	}

	return d.Walk(func(cu *dwarf.Entry) dispatch.RootHandler {
		return NewCUHandler(fc, line.NewReader(data, cu), newReporter(unitOffset(d, cu)))
	})
}

// unitOffset returns the offset of the header of the unit whose root is cu.
func unitOffset(d *dispatch.Dispatcher, cu *dwarf.Entry) uint64 {
	for _, u := range d.Units() {
		if uint64(cu.Offset) > u.Offset && uint64(cu.Offset) < u.End() {
			return u.Offset
		}
	}
	return uint64(cu.Offset)
}

// readSections returns the contents of every section holding data, keyed
// by name. Compressed debug sections are inflated and .zdebug_* sections
// are renamed .debug_*.
func readSections(f *elf.File) (map[string][]byte, error) {
	sections := map[string][]byte{}
	for _, s := range f.Sections {
		if s.Type == elf.SHT_NOBITS || s.Type == elf.SHT_NULL {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, errors.Wrapf(err, "section %s", s.Name)
		}

		name := s.Name
		if strings.HasPrefix(name, ".zdebug_") {
			if data, err = inflateZDebug(data); err != nil {
				return nil, errors.Wrapf(err, "section %s", s.Name)
			}
			name = ".debug_" + strings.TrimPrefix(name, ".zdebug_")
		}
		sections[name] = data
	}
	return sections, nil
}

// inflateZDebug decompresses a GNU .zdebug section: "ZLIB", the 8-byte
// big-endian size, then a zlib stream.
func inflateZDebug(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[:4]) != "ZLIB" {
		return data, nil
	}
	size := binary.BigEndian.Uint64(data[4:12])

	r, err := zlib.NewReader(bytes.NewReader(data[12:]))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]byte, 0, size)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// archName returns the symbol file spelling of f's machine.
func archName(f *elf.File) (string, error) {
	switch f.Machine {
	case elf.EM_386:
		return "x86", nil
	case elf.EM_X86_64:
		return "x86_64", nil
	case elf.EM_ARM:
		return "arm", nil
	case elf.EM_AARCH64:
		return "arm64", nil
	case elf.EM_MIPS:
		if f.Class == elf.ELFCLASS64 {
			return "mips64", nil
		}
		return "mips", nil
	case elf.EM_PPC:
		return "ppc", nil
	case elf.EM_PPC64:
		return "ppc64", nil
	case elf.EM_S390:
		return "s390", nil
	case elf.EM_SPARC:
		return "sparc", nil
	case elf.EM_SPARCV9:
		return "sparcv9", nil
	case elf.EM_RISCV:
		if f.Class == elf.ELFCLASS64 {
			return "riscv64", nil
		}
		return "riscv", nil
	}
	return "", errors.Errorf("unsupported machine %s", f.Machine)
}

func ptrSize(f *elf.File) int {
	if f.Class == elf.ELFCLASS32 {
		return 4
	}
	return 8
}

// loadAddress returns the address the file expects to be loaded at: that
// of the first loadable segment less its file offset. Shared objects and
// position independent executables normally give zero.
func loadAddress(f *elf.File) uint64 {
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			return p.Vaddr - p.Off
		}
	}
	return 0
}

func sectionAddr(f *elf.File, name string) uint64 {
	if s := f.Section(name); s != nil {
		return s.Addr
	}
	return 0
}

// idKey keys the hash identifying files that carry no build id.
var idKey = []byte("dumpsyms module identifier key!!")

// moduleID returns the identifier of the module: the file's GNU build id,
// or a hash of its .text section when it has none, laid out as a GUID
// followed by an age of zero.
func moduleID(f *elf.File, sections map[string][]byte) string {
	var id [16]byte

	if buildID, ok := gnuBuildID(f.ByteOrder, sections[".note.gnu.build-id"]); ok {
		copy(id[:], buildID)
	} else if text := sections[".text"]; len(text) > 0 {
		h, err := highwayhash.New128(idKey)
		if err == nil {
			h.Write(text)
			copy(id[:], h.Sum(nil))
		}
	}

	// GUID byte order: the first three fields are little endian
	guid := make([]byte, 0, 16)
	guid = append(guid, id[3], id[2], id[1], id[0], id[5], id[4], id[7], id[6])
	guid = append(guid, id[8:]...)
	return strings.ToUpper(fmt.Sprintf("%x", guid)) + "0"
}

// gnuBuildID extracts the descriptor of an NT_GNU_BUILD_ID note.
func gnuBuildID(order binary.ByteOrder, note []byte) ([]byte, bool) {
	const ntGNUBuildID = 3

	for len(note) >= 12 {
		namesz := order.Uint32(note[0:])
		descsz := order.Uint32(note[4:])
		typ := order.Uint32(note[8:])
		note = note[12:]

		nameEnd := align4(namesz)
		descEnd := nameEnd + align4(descsz)
		if uint64(len(note)) < descEnd || uint64(nameEnd)+uint64(descsz) > uint64(len(note)) {
			return nil, false
		}
		name := note[:namesz]
		desc := note[nameEnd : nameEnd+uint64(descsz)]
		if typ == ntGNUBuildID && string(bytes.TrimRight(name, "\x00")) == "GNU" && len(desc) > 0 {
			return desc, true
		}
		note = note[descEnd:]
	}
	return nil, false
}

func align4(n uint32) uint64 {
	return (uint64(n) + 3) &^ 3
}

// readExterns adds the file's function symbols to m, from .symtab or,
// failing that, .dynsym.
func readExterns(m *module.Module, f *elf.File) {
	syms, err := f.Symbols()
	if err != nil || len(syms) == 0 {
		if syms, err = f.DynamicSymbols(); err != nil {
			return
		}
	}

	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 || sym.Name == "" {
			continue
		}
		m.AddExtern(&module.Extern{Address: sym.Value, Name: sym.Name})
	}
}
