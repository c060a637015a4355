package device

import (
	"strconv"
	"strings"
)

// VersionFormat names how a raw version value should be rendered and
// compared, generalizing the teacher's single ad hoc "%d" version string
// (controller.go's FirmwareVersion) into the handful of schemes real
// hardware reports.
type VersionFormat string

const (
	VersionFormatPlain     VersionFormat = "plain"
	VersionFormatTriplet   VersionFormat = "triplet"   // 1.2.3
	VersionFormatQuad      VersionFormat = "quad"       // 1.2.3.4
	VersionFormatBCD       VersionFormat = "bcd"        // 0x0102 -> "1.2"
	VersionFormatHex       VersionFormat = "hex"        // 0x0102 -> "0x102"
	VersionFormatIntelMe   VersionFormat = "intel-me"   // 16.1.2.3 from a packed u32
)

// CompareVersions orders two version strings under format, returning
// -1/0/1. Dotted formats compare component-wise as integers so "9.10" >
// "9.9"; anything that fails to parse falls back to a string compare so
// comparisons never panic on malformed vendor strings.
func CompareVersions(a, b string, format VersionFormat) int {
	switch format {
	case VersionFormatTriplet, VersionFormatQuad, VersionFormatBCD, VersionFormatIntelMe:
		return compareDotted(a, b)
	default:
		return strings.Compare(a, b)
	}
}

func compareDotted(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		var err error
		if i < len(as) {
			if av, err = strconv.Atoi(as[i]); err != nil {
				return strings.Compare(a, b)
			}
		}
		if i < len(bs) {
			if bv, err = strconv.Atoi(bs[i]); err != nil {
				return strings.Compare(a, b)
			}
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// FormatBCDVersion renders a packed BCD-encoded 16-bit version (each
// nibble one decimal digit) the way UEFI capsule and ME firmware report
// theirs: 0x0102 -> "1.2".
func FormatBCDVersion(raw uint16) string {
	bcd := func(b uint16) int { return int(b>>4)*10 + int(b&0x0f) }
	major := (raw >> 8) & 0xff
	minor := raw & 0xff
	return strconv.Itoa(bcd(major)) + "." + strconv.Itoa(bcd(minor))
}

// FormatIntelMeVersion unpacks a 32-bit Intel ME version word into its
// four dotted components (major.minor.hotfix.build), each 8 bits wide.
func FormatIntelMeVersion(raw uint32) string {
	parts := []uint32{raw >> 24 & 0xff, raw >> 16 & 0xff, raw >> 8 & 0xff, raw & 0xff}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strconv.Itoa(int(p))
	}
	return strings.Join(out, ".")
}
