package firmware

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/stream"
)

const (
	atomAnchorString  = "ATOMBIOSBK-AMD VER"
	atomVersionLength = 43

	atomStrlenNormal = 32 // STRLEN_NORMAL in fu-amd-gpu-atom-firmware.c
	atomStrlenLong   = 64 // STRLEN_LONG

	// Offsets into the legacy VBIOS image header backing fu_struct_atom_image.
	// atomSizeOff (0x02, ROM size in 512-byte units) and atomRomLocOff
	// (0x48, a 2-byte pointer to the ATOM ROM header) follow the standard
	// PCI expansion-ROM header layout. atomNumStringsOff/atomStrLocOff
	// approximate the num_strings/str_loc pair fwupd reads immediately
	// after rom_loc in its own fu-amd-gpu-atom-struct.rs (not present in
	// this retrieval pack) — the same kind of byte-offset approximation
	// amdpsp.go documents for its directory-entry layout.
	atomSizeOff       = 0x02
	atomRomLocOff     = 0x48
	atomNumStringsOff = atomRomLocOff + 2
	atomStrLocOff     = atomRomLocOff + 3
)

// AMDAtomStrings is the ATOM image's string table: the part number that
// gates update acceptance in the AMD-GPU device (§4.2.f), plus the ASIC,
// PCI, and memory type tags and the free-text model name that follow it.
// Carried in a Firmware's Parsed field for KindAMDAtom.
type AMDAtomStrings struct {
	PartNumber string
	ASIC       string
	PCIType    string
	MemoryType string
	ModelName  string
}

type amdAtomParser struct{}

func init() { Register(amdAtomParser{}) }

func (amdAtomParser) Kind() Kind { return KindAMDAtom }

// ParseAMDAtom scans a VBIOS image for the ATOMBIOS anchor string and its
// trailing version, then walks the ATOM image's string table for the part
// number/ASIC/PCI-type/memory-type quadruple and model name
// (fu-amd-gpu-atom-firmware.c's fu_amd_gpu_atom_firmware_parse_vbios_pn).
//
// base is the ROM's load address as declared by the caller (e.g. from a
// PCI option ROM header); pass 0 when the image is already a flat ROM
// dump starting at its own base.
func ParseAMDAtom(in *stream.InputStream, base uint32) (*Firmware, error) {
	buf := in.Bytes()
	if int(base) > len(buf) {
		return nil, fmt.Errorf("amd atom parse: %w", ferrors.New(ferrors.InvalidData, "base address outside image"))
	}

	version, err := parseAMDAtomVersion(buf, base)
	if err != nil {
		return nil, fmt.Errorf("amd atom parse: %w", err)
	}

	strs, err := parseAMDAtomStrings(buf, base)
	if err != nil {
		return nil, fmt.Errorf("amd atom parse: %w", err)
	}

	return &Firmware{
		Kind:   KindAMDAtom,
		Images: []*Image{{ID: strs.PartNumber, Addr: base, Bytes: buf, Version: version}},
		Parsed: strs,
	}, nil
}

func parseAMDAtomVersion(buf []byte, base uint32) (string, error) {
	idx := bytes.Index(buf[base:], []byte(atomAnchorString))
	if idx < 0 {
		return "", ferrors.New(ferrors.InvalidFile, "ATOMBIOS anchor string not found")
	}
	versionOff := int(base) + idx + len(atomAnchorString)
	return stream.ReadString(buf, versionOff, atomVersionLength)
}

// parseAMDAtomStrings reads num_strings/str_loc off the ATOM image header
// and positionally assigns the first four NUL-terminated strings starting
// at str_loc to {part_number, asic, pci_type, memory_type}, then (after
// skipping the following CR LF pair) the 63-char model name —
// fu_amd_gpu_atom_firmware_parse_vbios_pn's exact field order.
func parseAMDAtomStrings(buf []byte, base uint32) (*AMDAtomStrings, error) {
	if int(base)+atomStrLocOff+2 > len(buf) {
		return nil, ferrors.New(ferrors.InvalidData, "buffer too short for ATOM ROM header")
	}

	numStrings := int(buf[int(base)+atomNumStringsOff])
	if numStrings == 0 {
		return nil, ferrors.New(ferrors.InvalidData, "ATOMBIOS number of strings is 0")
	}
	if numStrings > 4 {
		return nil, ferrors.New(ferrors.InvalidData, fmt.Sprintf("unknown string index: %d", numStrings-1))
	}

	strLoc := binary.LittleEndian.Uint16(buf[int(base)+atomStrLocOff : int(base)+atomStrLocOff+2])
	if strLoc == 0 {
		return nil, ferrors.New(ferrors.InvalidData, "ATOMBIOS string location is invalid")
	}

	out := &AMDAtomStrings{}
	idx := int(base) + int(strLoc)
	for i := 0; i < numStrings; i++ {
		s, err := stream.ReadString(buf, idx, atomStrlenNormal-1)
		if err != nil {
			return nil, fmt.Errorf("atom string %d: %w", i, err)
		}
		idx += len(s) + 1
		switch i {
		case 0:
			out.PartNumber = s
		case 1:
			out.ASIC = s
		case 2:
			out.PCIType = s
		case 3:
			out.MemoryType = s
		}
	}

	idx += 2 // skip the trailing 0x0D 0x0A separating the string table from the model name
	model, err := stream.ReadString(buf, idx, atomStrlenLong-1)
	if err != nil {
		return nil, fmt.Errorf("atom model name: %w", err)
	}
	out.ModelName = strings.TrimSpace(model)

	return out, nil
}

func (p amdAtomParser) Parse(in *stream.InputStream, flags ParseFlags) (*Firmware, error) {
	return ParseAMDAtom(in, 0)
}
