package firmware

import (
	"encoding/binary"
	"fmt"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/stream"
)

// AMD PSP images are laid out as an Embedded Firmware Structure (EFS)
// pointing at an "L1" PSP directory table; L1 entries point at Image Slot
// Headers (ISH), which in turn point at a partition holding an "L2" PSP
// directory table (fu-amd-gpu-psp-firmware.c). This file implements the
// two-layer walk the comment in that source describes.
const (
	efsSignature  = 0x55AA55AA
	efsDirLocOff  = 0x14
	pspDirHeader  = 16 // cookie u32, checksum u32, total_entries u32, reserved u32
	pspDirEntry   = 12 // fw_id u32, size u32, loc u32

	fwIDISHA         = 0x40
	fwIDISHB         = 0x41
	fwIDPartitionAL2 = 0x50
	fwIDPartitionBL2 = 0x51
)

// PSPDirEntry is one L1 or L2 directory table row.
type PSPDirEntry struct {
	FWID uint32
	Size uint32
	Loc  uint32
}

type amdPSPParser struct{}

func init() { Register(amdPSPParser{}) }

func (amdPSPParser) Kind() Kind { return KindAMDPSP }

// Parse walks the EFS -> L1 directory -> image slot header -> L2 directory
// chain, producing a tree of Images: the top-level image is the whole
// buffer, one child per L1 entry's image-slot-header image, each carrying
// an ATOM CSM child (only when the CSM image parses) and an L2-partition
// child populated with that
// partition's own directory entries.
func (amdPSPParser) Parse(in *stream.InputStream, flags ParseFlags) (*Firmware, error) {
	buf := in.Bytes()
	if len(buf) < efsDirLocOff+4 {
		return nil, fmt.Errorf("amd psp parse: %w", ferrors.New(ferrors.InvalidFile, "buffer shorter than EFS header"))
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != efsSignature {
		return nil, fmt.Errorf("amd psp parse: %w", ferrors.New(ferrors.InvalidFile, "bad EFS signature"))
	}
	dirLoc := binary.LittleEndian.Uint32(buf[efsDirLocOff : efsDirLocOff+4])

	l1Entries, _, err := readPSPDirTable(buf, dirLoc)
	if err != nil {
		return nil, fmt.Errorf("amd psp parse: l1: %w", err)
	}

	root := &Image{Bytes: buf}
	for _, e := range l1Entries {
		var ishID string
		switch e.FWID {
		case fwIDISHA:
			ishID = "ISH_A"
		case fwIDISHB:
			ishID = "ISH_B"
		default:
			return nil, fmt.Errorf("amd psp parse: %w", ferrors.New(ferrors.InvalidData,
				fmt.Sprintf("unknown ISH fw_id 0x%x", e.FWID)))
		}
		ishImg, err := parseImageSlot(buf, e.Loc, ishID)
		if err != nil {
			return nil, fmt.Errorf("amd psp parse: %w", err)
		}
		root.Children = append(root.Children, ishImg)
	}

	return &Firmware{Kind: KindAMDPSP, Images: []*Image{root}}, nil
}

// imageSlotHeader mirrors FuStructImageSlotHeader: fw_id, a pointer to the
// ATOM CSM sub-image, a pointer to the partition plus its max size.
type imageSlotHeader struct {
	FWID        uint32
	LocCSM      uint32
	Loc         uint32
	SlotMaxSize uint32
}

const imageSlotHeaderSize = 16

func parseImageSlot(buf []byte, off uint32, id string) (*Image, error) {
	if int(off)+imageSlotHeaderSize > len(buf) {
		return nil, ferrors.New(ferrors.InvalidFile, "image slot header out of range")
	}
	ish := imageSlotHeader{
		FWID:        binary.LittleEndian.Uint32(buf[off : off+4]),
		LocCSM:      binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		Loc:         binary.LittleEndian.Uint32(buf[off+8 : off+12]),
		SlotMaxSize: binary.LittleEndian.Uint32(buf[off+12 : off+16]),
	}

	ishImg := &Image{ID: id, Addr: off}

	csmFW, err := ParseAMDAtom(stream.New(buf), ish.LocCSM)
	if err == nil {
		csmImg := csmFW.Images[0]
		ishImg.Children = append(ishImg.Children, csmImg)
	}

	var partitionID string
	switch ish.FWID {
	case fwIDPartitionAL2:
		partitionID = "PARTITION_A"
	case fwIDPartitionBL2:
		partitionID = "PARTITION_B"
	default:
		return nil, ferrors.New(ferrors.InvalidData, fmt.Sprintf("unknown partition fw_id 0x%x", ish.FWID))
	}

	l2Entries, _, err := readPSPDirTable(buf, ish.Loc)
	if err != nil {
		return nil, fmt.Errorf("l2: %w", err)
	}
	end := ish.Loc + ish.SlotMaxSize
	if end > uint32(len(buf)) {
		end = uint32(len(buf))
	}
	l2Img := &Image{ID: partitionID, Addr: ish.Loc, Bytes: buf[ish.Loc:end]}
	for _, e := range l2Entries {
		l2Img.Children = append(l2Img.Children, &Image{Addr: e.Loc, Bytes: nil, ID: fmt.Sprintf("0x%x", e.FWID)})
	}
	ishImg.Children = append(ishImg.Children, l2Img)

	return ishImg, nil
}

// readPSPDirTable reads a directory header (cookie/checksum/total_entries)
// at off, followed by total_entries fixed 12-byte rows.
func readPSPDirTable(buf []byte, off uint32) ([]PSPDirEntry, uint32, error) {
	if int(off)+pspDirHeader > len(buf) {
		return nil, 0, ferrors.New(ferrors.InvalidFile, "directory header out of range")
	}
	total := binary.LittleEndian.Uint32(buf[off+8 : off+12])
	pos := off + pspDirHeader

	entries := make([]PSPDirEntry, 0, total)
	for i := uint32(0); i < total; i++ {
		if int(pos)+pspDirEntry > len(buf) {
			return nil, 0, ferrors.New(ferrors.InvalidFile, "directory entry out of range")
		}
		entries = append(entries, PSPDirEntry{
			FWID: binary.LittleEndian.Uint32(buf[pos : pos+4]),
			Size: binary.LittleEndian.Uint32(buf[pos+4 : pos+8]),
			Loc:  binary.LittleEndian.Uint32(buf[pos+8 : pos+12]),
		})
		pos += pspDirEntry
	}
	return entries, pos, nil
}
