// Package program implements the rpled program image format: header parsing,
// validation, and the module-requirement check a VM build performs at load
// time. Grounded on rpled-vm/src/program.rs.
package program

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/stestagg/rpled/internal/memio"
)

// Module identifies a module by its opcode base, matching the single byte
// stored per-module in the header.
type Module byte

// Flags is a bitmask of required/enabled modules.
type Flags uint16

const (
	FlagTest Flags = 1 << 7 // 0x80
	FlagLED  Flags = 1 << 0 // 0x01
)

const (
	moduleIDTest Module = 60
	moduleIDLED  Module = 64
)

func moduleToFlag(id Module) (Flags, bool) {
	switch id {
	case moduleIDTest:
		return FlagTest, true
	case moduleIDLED:
		return FlagLED, true
	default:
		return 0, false
	}
}

// preludeSize is magic(3) + version(1) + heap_size(2) + header_len(1) +
// n_modules(1) = 8 bytes, with header_len measured from headerLenOffset.
const (
	preludeSize     = 8
	headerLenOffset = 7
	minStackSize    = 8
)

var supportedVersions = map[byte]bool{0: true}

// Errors returned by Parse. These are the "Program/load
// errors" taxonomy member.
var (
	ErrTooShort              = errors.New("program: image shorter than header prelude")
	ErrUnreadableHeader      = errors.New("program: header_len runs past end of image")
	ErrInvalidMagic          = errors.New("program: bad magic bytes, expected \"PXS\"")
	ErrInvalidName           = errors.New("program: program name is not valid UTF-8")
	ErrProgramTooLarge       = errors.New("program: header_end exceeds 65535")
)

// UnexpectedVersionError reports an unsupported version byte.
type UnexpectedVersionError struct{ Version byte }

func (e *UnexpectedVersionError) Error() string {
	return fmt.Sprintf("program: unsupported version %d", e.Version)
}

// UnknownModuleError reports a module id with no known flag mapping.
type UnknownModuleError struct{ ID Module }

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("program: unknown module id %d", e.ID)
}

// MissingRequiredModulesError reports modules the image declares that this
// build does not have compiled in, via a mask of the unsupported flags.
type MissingRequiredModulesError struct{ Missing Flags }

func (e *MissingRequiredModulesError) Error() string {
	return fmt.Sprintf("program: image requires modules not enabled in this build (mask 0x%02x)", e.Missing)
}

// Header is the parsed, validated program header.
type Header struct {
	Version           byte
	RequestedHeapSize uint16 // parsed, but NOT used to size the heap; see loader
	Modules           []Module
	RequiredFlags     Flags
	Name              string
	HeaderEnd         int // == program_start, offset where code begins
}

// Parse validates and decodes the header of image. It does not check the
// module set against a VM's enabled set; call CheckRequiredModules for that.
func Parse(image []byte) (*Header, error) {
	if len(image) < preludeSize {
		return nil, ErrTooShort
	}
	r := memio.NewReader(image)

	magic, err := r.Bytes(3)
	if err != nil {
		return nil, ErrTooShort
	}
	if string(magic) != "PXS" {
		return nil, ErrInvalidMagic
	}

	version, err := r.U8()
	if err != nil {
		return nil, ErrTooShort
	}
	if !supportedVersions[version] {
		return nil, &UnexpectedVersionError{Version: version}
	}

	heapSize, err := r.U16()
	if err != nil {
		return nil, ErrTooShort
	}

	headerLen, err := r.U8()
	if err != nil {
		return nil, ErrTooShort
	}

	nModules, err := r.U8()
	if err != nil {
		return nil, ErrTooShort
	}

	headerEnd := int(headerLen) + headerLenOffset
	if headerEnd > 0xFFFF {
		return nil, ErrProgramTooLarge
	}
	if headerEnd > len(image) {
		return nil, ErrUnreadableHeader
	}

	modules := make([]Module, 0, nModules)
	var required Flags
	for i := 0; i < int(nModules); i++ {
		id, err := r.U8()
		if err != nil {
			return nil, ErrUnreadableHeader
		}
		mod := Module(id)
		flag, ok := moduleToFlag(mod)
		if !ok {
			return nil, &UnknownModuleError{ID: mod}
		}
		modules = append(modules, mod)
		required |= flag
	}

	nameStart := preludeSize + int(nModules)
	if nameStart > headerEnd {
		return nil, ErrUnreadableHeader
	}
	nameBytes := image[nameStart:headerEnd]
	if !utf8.Valid(nameBytes) {
		return nil, ErrInvalidName
	}

	return &Header{
		Version:           version,
		RequestedHeapSize: heapSize,
		Modules:           modules,
		RequiredFlags:     required,
		Name:              string(nameBytes),
		HeaderEnd:         headerEnd,
	}, nil
}

// CheckRequiredModules returns MissingRequiredModulesError if h requires any
// module not present in enabled.
func (h *Header) CheckRequiredModules(enabled Flags) error {
	missing := h.RequiredFlags &^ enabled
	if missing != 0 {
		return &MissingRequiredModulesError{Missing: missing}
	}
	return nil
}

// MinStackSize is the minimum number of bytes the loader must reserve for
// the operand stack after code and heap are laid out.
const MinStackSize = minStackSize
