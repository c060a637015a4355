package firmware

import (
	"encoding/binary"
	"fmt"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/stream"
)

const (
	phatSignature     = "PHAT"
	phatHeaderSize    = 36
	phatRevision      = 1
	phatRecordVersion = 0x0000
	phatRecordHealth  = 0x0001
	phatImagesMax     = 2000
)

// PHATVersionRecord is a type-0 PHAT record: a component's GUID and
// version string, used by fwupd to cross-reference ESRT entries.
type PHATVersionRecord struct {
	ComponentID [16]byte
	VersionStr  string
}

// PHATHealthRecord is a type-1 PHAT record summarizing a component's
// last-boot health status.
type PHATHealthRecord struct {
	ComponentID [16]byte
	HealthOK    bool
}

type acpiPhatParser struct{}

func init() { Register(acpiPhatParser{}) }

func (acpiPhatParser) Kind() Kind { return KindACPIPhat }

// Parse decodes an ACPI Platform Health Assessment Table: a 36-byte header
// (signature, length, revision, checksum, OEM fields) followed by
// variable-length version/health records, per fu-acpi-phat.c.
//
// revision must equal 1 unless flags carries Force (§4.2.e); a checksum
// mismatch is fatal unless flags carries IgnoreChecksum.
func (acpiPhatParser) Parse(in *stream.InputStream, flags ParseFlags) (*Firmware, error) {
	buf := in.Bytes()
	if len(buf) < phatHeaderSize || string(buf[0:4]) != phatSignature {
		return nil, fmt.Errorf("acpi phat parse: %w", ferrors.New(ferrors.InvalidFile, "bad PHAT signature"))
	}
	length := binary.LittleEndian.Uint32(buf[4:8])
	if int(length) > len(buf) {
		return nil, fmt.Errorf("acpi phat parse: %w", ferrors.New(ferrors.InvalidFile, "declared length exceeds buffer"))
	}
	if buf[8] != phatRevision && !flags.Has(Force) {
		return nil, fmt.Errorf("acpi phat parse: %w", ferrors.New(ferrors.InvalidData, "unsupported PHAT revision"))
	}
	if stream.Sum8(buf[:length]) != 0 && !flags.Has(IgnoreChecksum) {
		return nil, fmt.Errorf("acpi phat parse: %w", ferrors.New(ferrors.InvalidData, "checksum mismatch"))
	}

	var versions []PHATVersionRecord
	var healths []PHATHealthRecord
	off := phatHeaderSize
	count := 0
	for off < int(length) {
		if count >= phatImagesMax {
			return nil, fmt.Errorf("acpi phat parse: %w", ferrors.New(ferrors.InvalidData, "too many PHAT records"))
		}
		if off+5 > int(length) {
			return nil, fmt.Errorf("acpi phat parse: %w", ferrors.New(ferrors.InvalidFile, "truncated record header"))
		}
		recType := binary.LittleEndian.Uint16(buf[off : off+2])
		recLen := binary.LittleEndian.Uint16(buf[off+2 : off+4])
		if recLen < 5 {
			return nil, fmt.Errorf("acpi phat parse: %w", ferrors.New(ferrors.InvalidData, "record length below minimum of 5"))
		}
		if off+int(recLen) > int(length) {
			return nil, fmt.Errorf("acpi phat parse: %w", ferrors.New(ferrors.InvalidFile, "record overruns table"))
		}
		rec := buf[off : off+int(recLen)]

		switch recType {
		case phatRecordVersion:
			if len(rec) >= 5+16 {
				var vr PHATVersionRecord
				copy(vr.ComponentID[:], rec[5:21])
				if len(rec) > 21 {
					vr.VersionStr, _ = stream.ReadString(rec, 21, len(rec)-21)
				}
				versions = append(versions, vr)
			}
		case phatRecordHealth:
			if len(rec) >= 5+17 {
				var hr PHATHealthRecord
				copy(hr.ComponentID[:], rec[5:21])
				hr.HealthOK = rec[21] == 0
				healths = append(healths, hr)
			}
		}

		off += int(recLen)
		count++
	}

	return &Firmware{
		Kind:   KindACPIPhat,
		Images: []*Image{{Bytes: buf[:length]}},
		Parsed: struct {
			Versions []PHATVersionRecord
			Healths  []PHATHealthRecord
		}{versions, healths},
	}, nil
}

// Write serializes the firmware's single image back into a PHAT table,
// recomputing the checksum byte last: byte 9 is set to 0xFF minus the
// sum8 of the whole buffer, matching fu_acpi_phat_write's fixup-after-
// serialization approach instead of zeroing and re-summing in place.
func (acpiPhatParser) Write(fw *Firmware) ([]byte, error) {
	if len(fw.Images) == 0 {
		return nil, fmt.Errorf("acpi phat write: %w", ferrors.New(ferrors.InvalidData, "no image to write"))
	}
	buf := append([]byte{}, fw.Images[0].Bytes...)
	if len(buf) < phatHeaderSize {
		return nil, fmt.Errorf("acpi phat write: %w", ferrors.New(ferrors.InvalidData, "image shorter than PHAT header"))
	}
	buf[9] = 0xFF
	buf[9] = 0xFF - stream.Sum8(buf)
	return buf, nil
}
