package firmware

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/stream"
)

// hailuckSwapThreshold and hailuckSwapOffset (the start of the three
// relocated bytes) are the exact constants fu-hailuck-kbd-firmware.c
// checks before swapping; Hailuck
// keyboards store their real reset vector at 0x37FB-0x37FD and the IHEX
// loader otherwise overwrites it with a placeholder vector at address 0.
const (
	hailuckSwapThreshold = 0x37FD
	hailuckSwapOffset    = 0x37FB
)

// recordType mirrors the IHEX record type field (byte 3 of a line after
// length/address).
type recordType byte

const (
	recData          recordType = 0x00
	recEOF           recordType = 0x01
	recExtSegAddr    recordType = 0x02
	recStartSegAddr  recordType = 0x03
	recExtLinearAddr recordType = 0x04
	recStartLinAddr  recordType = 0x05
)

type ihexParser struct{}

func init() { Register(ihexParser{}) }

func (ihexParser) Kind() Kind { return KindIHex }

// Parse decodes an Intel HEX text stream into a single flat byte image,
// honoring extended linear/segment address records, and applies the
// Hailuck keyboard relocation swap when the decoded buffer matches the
// exact pattern the vendor's bootloader expects.
func (ihexParser) Parse(in *stream.InputStream, flags ParseFlags) (*Firmware, error) {
	sc := bufio.NewScanner(bytes.NewReader(in.Bytes()))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []byte
	var highAddr uint32
	sawEOF := false

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line[0] != ':' {
			return nil, fmt.Errorf("ihex parse: %w", ferrors.New(ferrors.InvalidFile, "line missing ':' marker"))
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil || len(raw) < 5 {
			return nil, fmt.Errorf("ihex parse: %w", ferrors.New(ferrors.InvalidFile, "malformed hex record"))
		}

		byteCount := int(raw[0])
		addr := uint32(raw[1])<<8 | uint32(raw[2])
		typ := recordType(raw[3])
		if len(raw) != 5+byteCount {
			return nil, fmt.Errorf("ihex parse: %w", ferrors.New(ferrors.InvalidFile, "record length mismatch"))
		}
		data := raw[4 : 4+byteCount]

		switch typ {
		case recData:
			full := highAddr + addr
			if need := int(full) + len(data); need > len(out) {
				grown := make([]byte, need)
				copy(grown, out)
				out = grown
			}
			copy(out[full:], data)
		case recEOF:
			sawEOF = true
		case recExtLinearAddr:
			if len(data) != 2 {
				return nil, fmt.Errorf("ihex parse: %w", ferrors.New(ferrors.InvalidFile, "bad extended linear address record"))
			}
			highAddr = (uint32(data[0])<<8 | uint32(data[1])) << 16
		case recExtSegAddr:
			if len(data) != 2 {
				return nil, fmt.Errorf("ihex parse: %w", ferrors.New(ferrors.InvalidFile, "bad extended segment address record"))
			}
			highAddr = (uint32(data[0])<<8 | uint32(data[1])) << 4
		case recStartSegAddr, recStartLinAddr:
			// start-address records carry no image data, ignored.
		default:
			return nil, fmt.Errorf("ihex parse: %w", ferrors.New(ferrors.InvalidFile,
				fmt.Sprintf("unsupported record type 0x%02x", typ)))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ihex parse: %w", err)
	}
	if !sawEOF {
		return nil, fmt.Errorf("ihex parse: %w", ferrors.New(ferrors.InvalidFile, "missing EOF record"))
	}

	applyHailuckSwap(out)

	return &Firmware{
		Kind:   KindIHex,
		Images: []*Image{{Bytes: out}},
	}, nil
}

// applyHailuckSwap performs the bit-exact relocation fwupd's Hailuck
// keyboard plugin applies: when the decoded image is longer than 0x37FD
// bytes and bytes 1 and 2 are 0x38, 0x00 (the vendor's placeholder jump
// pattern), it swaps the first three bytes with the real reset vector
// stored at 0x37FB and zeroes the source.
func applyHailuckSwap(buf []byte) {
	if len(buf) <= hailuckSwapThreshold || buf[1] != 0x38 || buf[2] != 0x00 {
		return
	}
	var tmp [3]byte
	copy(tmp[:], buf[0:3])
	copy(buf[0:3], buf[hailuckSwapOffset:hailuckSwapOffset+3])
	copy(buf[hailuckSwapOffset:hailuckSwapOffset+3], tmp[:])
	buf[hailuckSwapOffset] = 0
	buf[hailuckSwapOffset+1] = 0
	buf[hailuckSwapOffset+2] = 0
}
