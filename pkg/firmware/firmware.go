// Package firmware implements the Firmware tagged-variant tree: a single
// concrete type carrying a Kind tag and kind-specific fields, instead of a
// C-style class hierarchy. Parsing is dispatched through a small registry
// keyed by Kind, generalizing the teacher's hash-method factory
// (pkg/hashing/factory) from "pick a compute backend" to "pick a firmware
// format parser."
package firmware

import (
	"fmt"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/stream"
)

// Kind tags which concrete format a Firmware value holds.
type Kind string

const (
	KindRaw          Kind = "raw"
	KindArchive      Kind = "archive"
	KindIHex         Kind = "ihex"
	KindUF2          Kind = "uf2"
	KindTPMEventLog  Kind = "tpm-eventlog"
	KindACPIPhat     Kind = "acpi-phat"
	KindAMDPSP       Kind = "amd-psp"
	KindAMDAtom      Kind = "amd-atom"
	KindVendorBundle Kind = "vendor-bundle"
	KindNVMeIdentify Kind = "nvme-identify"
)

// Image is one addressable sub-blob of a Firmware: the top-level Firmware
// always has at least one Image (itself); container formats (archive,
// AMD PSP directories, vendor bundles) add children.
type Image struct {
	ID       string
	Addr     uint32
	Bytes    []byte
	Version  string
	Children []*Image
}

// Checksum returns the CRC16 of the image bytes, a value to verify a write
// against the source image rather than reading back the device (§4.6
// write verification via either readback or checksum). No transport in
// this module calls it.
func (img *Image) Checksum() uint16 { return stream.CRC16IBM(img.Bytes) }

// Firmware is the tagged variant every format parser returns. Kind-specific
// data lives in the Parsed field via a type switch at the call site;
// Images is always populated so generic consumers (the archive walker, the
// chunker) never need to know the concrete kind.
type Firmware struct {
	Kind    Kind
	Images  []*Image
	Parsed  interface{}
	rawSize int64
}

// ParseFlags mirrors fwupd's FwupdInstallFlags subset that governs how
// forgiving a parse is: whether an anchor search may be skipped, whether a
// checksum or vendor/product mismatch is fatal, and whether format-specific
// version gates (e.g. a stale revision byte) can be overridden.
type ParseFlags uint32

const (
	// NoSearch disables any anchor/magic scan a parser would otherwise do
	// to locate its payload within a larger blob, requiring it at offset 0.
	// No parser in this package reads it: the AMD ATOM parser scans for
	// its anchor whether or not it is set.
	NoSearch ParseFlags = 1 << iota
	// IgnoreChecksum accepts a payload whose embedded checksum does not
	// match its computed value instead of failing the parse.
	IgnoreChecksum
	// IgnoreVidPid accepts a payload whose embedded vendor/product ID does
	// not match the expected device instead of failing the parse.
	IgnoreVidPid
	// Force overrides format-specific acceptance gates (e.g. a firmware
	// revision byte that must otherwise equal a fixed value).
	Force
)

// Has reports whether f contains every bit set in want.
func (f ParseFlags) Has(want ParseFlags) bool { return f&want == want }

// Parser parses raw bytes into a Firmware of a fixed Kind. Each concrete
// format in this package implements Parser and registers itself in the
// package-level registry via Register.
type Parser interface {
	Kind() Kind
	Parse(in *stream.InputStream, flags ParseFlags) (*Firmware, error)
}

// Writer serializes a Firmware back to bytes, the inverse of Parser. Not
// every format needs to support writing (vendor-bundle is read-only in
// this implementation); formats that do implement both interfaces on the
// same parser value.
type Writer interface {
	Write(fw *Firmware) ([]byte, error)
}

var registry = map[Kind]Parser{}

// Register adds a parser to the package registry. Called from each format
// file's init().
func Register(p Parser) {
	registry[p.Kind()] = p
}

// Parse dispatches to the registered parser for kind with no parse flags
// set. Use ParseWithFlags to relax or override format-specific gates.
func Parse(kind Kind, in *stream.InputStream) (*Firmware, error) {
	return ParseWithFlags(kind, in, 0)
}

// ParseWithFlags dispatches to the registered parser for kind, passing
// flags through so the parser can honor NoSearch/IgnoreChecksum/
// IgnoreVidPid/Force per §4.2.
func ParseWithFlags(kind Kind, in *stream.InputStream, flags ParseFlags) (*Firmware, error) {
	p, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("firmware parse: %w", ferrors.New(ferrors.NotSupported,
			fmt.Sprintf("no parser registered for kind %q", kind)))
	}
	return p.Parse(in, flags)
}

// Write dispatches to the registered parser for fw.Kind, requiring it also
// implement Writer.
func Write(fw *Firmware) ([]byte, error) {
	p, ok := registry[fw.Kind]
	if !ok {
		return nil, fmt.Errorf("firmware write: %w", ferrors.New(ferrors.NotSupported,
			fmt.Sprintf("no parser registered for kind %q", fw.Kind)))
	}
	w, ok := p.(Writer)
	if !ok {
		return nil, fmt.Errorf("firmware write: %w", ferrors.New(ferrors.NotSupported,
			fmt.Sprintf("kind %q does not support writing", fw.Kind)))
	}
	return w.Write(fw)
}

// NewRaw wraps buf as a single-image Firmware with no format-specific
// parsing, the fallback for devices that accept an opaque blob.
func NewRaw(buf []byte) *Firmware {
	return &Firmware{
		Kind:    KindRaw,
		Images:  []*Image{{ID: "", Bytes: buf}},
		rawSize: int64(len(buf)),
	}
}

// Bytes returns the concatenation of the firmware's top-level image bytes,
// the form a transport writes when it doesn't need per-image addressing.
func (fw *Firmware) Bytes() []byte {
	if len(fw.Images) == 0 {
		return nil
	}
	return fw.Images[0].Bytes
}
