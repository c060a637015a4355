package firmware

import (
	"encoding/binary"
	"fmt"
	"strings"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/guid"
	"fwupdcore/pkg/stream"
)

// nvmeIDCtrlSize is the fixed size of an NVMe Identify Controller data
// structure (NVM-Express-1_3c-2018.05.24-Ratified.pdf), matching
// FU_NVME_ID_CTRL_SIZE in plugins/nvme/fu-nvme-device.c.
const nvmeIDCtrlSize = 0x1000

// NVMeIdentity is the subset of the Identify Controller response this
// daemon cares about: enough to name, version, and address the device.
// It is carried in a Firmware's Parsed field for KindNVMeIdentify.
type NVMeIdentity struct {
	Serial       string
	DeviceName   string
	Version      string
	WriteBlockSz uint64
	FRUGUID      string
	InstanceGUID string
}

type nvmeIdentifyParser struct{}

func init() { Register(nvmeIdentifyParser{}) }

func (nvmeIdentifyParser) Kind() Kind { return KindNVMeIdentify }

// Parse decodes a 4096-byte NVMe Identify Controller buffer, generalizing
// fu_nvme_device_parse_cns. Field offsets are exactly the ones the C
// plugin reads: SN at [4,23], MN at [24,63], FR at [64,71], FWUG at byte
// 319, and the FRU GUID at byte 127.
func (nvmeIdentifyParser) Parse(in *stream.InputStream, flags ParseFlags) (*Firmware, error) {
	buf := in.Bytes()
	if len(buf) != nvmeIDCtrlSize {
		return nil, fmt.Errorf("nvme identify parse: %w", ferrors.New(ferrors.InvalidFile,
			fmt.Sprintf("expected %#x bytes, got %#x", nvmeIDCtrlSize, len(buf))))
	}

	id := NVMeIdentity{}

	sn := nvmeStringSafe(buf, 4, 23)
	id.Serial = sn

	mn := nvmeStringSafe(buf, 24, 63)
	id.DeviceName = reorderVendorModel(mn)

	sr := nvmeStringSafe(buf, 64, 71)
	id.Version = sr

	fwug := buf[319]
	if fwug != 0x00 && fwug != 0xff {
		id.WriteBlockSz = uint64(fwug) * 0x1000
	}

	if g, ok := nvmeGUIDSafe(buf, 127); ok {
		id.FRUGUID = g
	}

	switch {
	case id.FRUGUID != "":
		id.InstanceGUID = id.FRUGUID
	case mn != "":
		id.InstanceGUID = guid.HashInstanceID(mn)
	}

	img := &Image{ID: id.Serial, Bytes: buf, Version: id.Version}
	return &Firmware{Kind: KindNVMeIdentify, Images: []*Image{img}, Parsed: id}, nil
}

// nvmeStringSafe extracts buf[start..end] inclusive, skipping leading
// spaces and non-printable bytes, and trimming trailing whitespace — the
// same sanitizing fu_nvme_device_get_string_safe does.
func nvmeStringSafe(buf []byte, start, end int) string {
	var b strings.Builder
	for i := start; i <= end && i < len(buf); i++ {
		c := buf[i]
		if c == ' ' && b.Len() == 0 {
			continue
		}
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		}
	}
	return strings.TrimRight(b.String(), " \t\n\r")
}

// nvmeGUIDSafe reads a 16-byte mixed-endian GUID at start, rejecting the
// all-zero and all-0xff values fu_common_guid_is_plausible treats as "not
// actually a GUID".
func nvmeGUIDSafe(buf []byte, start int) (string, bool) {
	if start+16 > len(buf) {
		return "", false
	}
	raw := buf[start : start+16]

	allZero, allFF := true, true
	for _, b := range raw {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xff {
			allFF = false
		}
	}
	if allZero || allFF {
		return "", false
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.LittleEndian.Uint32(raw[0:4]),
		binary.LittleEndian.Uint16(raw[4:6]),
		binary.LittleEndian.Uint16(raw[6:8]),
		binary.BigEndian.Uint16(raw[8:10]),
		raw[10:16],
	), true
}

// reorderVendorModel swaps a "VENDOR MODEL" model-number string into
// "MODEL VENDOR" device-name order: the Identify Controller's MN field
// reports vendor first, but this daemon names devices the way an operator
// looks them up, leading with the part number rather than the brand.
func reorderVendorModel(mn string) string {
	parts := strings.SplitN(mn, " ", 2)
	if len(parts) != 2 {
		return mn
	}
	return parts[1] + " " + parts[0]
}
