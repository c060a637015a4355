package firmware

import (
	"encoding/binary"
	"fmt"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/stream"
)

const (
	uf2BlockSize    = 512
	uf2MagicStart0  = 0x0A324655
	uf2MagicStart1  = 0x9E5D5157
	uf2MagicEnd     = 0x0AB16F30
	uf2MaxPayload   = 476
	uf2FlagNotMain  = 0x00000001
	uf2FlagFileCont = 0x00001000
	uf2FlagFamilyID = 0x00002000
	uf2FlagChecksum = 0x00004000
	uf2FlagExtTags  = 0x00008000

	uf2TagVersion     = 0x9fc7bc // UTF8 version tag
	uf2TagDescription = 0x650d9d
)

type uf2Block struct {
	Flags       uint32
	TargetAddr  uint32
	PayloadSize uint32
	BlockNo     uint32
	NumBlocks   uint32
	FamilyID    uint32
	Data        [uf2MaxPayload]byte
}

type uf2Parser struct{}

func init() { Register(uf2Parser{}) }

func (uf2Parser) Kind() Kind { return KindUF2 }

// Parse decodes a UF2 image: a sequence of fixed 512-byte blocks, each
// self-describing its target address and position in the sequence, plus
// optional extension tags carried in the unused tail of block 0's payload
// area (fu-uf2-firmware.c fu_uf2_firmware_parse).
func (uf2Parser) Parse(in *stream.InputStream, flags ParseFlags) (*Firmware, error) {
	buf := in.Bytes()
	if len(buf) == 0 || len(buf)%uf2BlockSize != 0 {
		return nil, fmt.Errorf("uf2 parse: %w", ferrors.New(ferrors.InvalidFile, "length not a multiple of 512"))
	}
	numChunks := len(buf) / uf2BlockSize

	var out []byte
	var targetAddr uint32
	var familyID uint32
	var version, description string
	haveFirst := false

	for i := 0; i < numChunks; i++ {
		chunk := buf[i*uf2BlockSize : (i+1)*uf2BlockSize]
		blk, err := parseUF2Block(chunk)
		if err != nil {
			return nil, fmt.Errorf("uf2 parse: block %d: %w", i, err)
		}
		if blk.Flags&uf2FlagFileCont != 0 {
			return nil, fmt.Errorf("uf2 parse: %w", ferrors.New(ferrors.NotSupported, "container U2F firmware not supported"))
		}
		if blk.PayloadSize > uf2MaxPayload {
			return nil, fmt.Errorf("uf2 parse: %w", ferrors.New(ferrors.InvalidData, "payload size exceeds 476"))
		}
		if int(blk.BlockNo) != i {
			return nil, fmt.Errorf("uf2 parse: %w", ferrors.New(ferrors.InvalidData, "block_no does not match position"))
		}
		if blk.NumBlocks == 0 {
			return nil, fmt.Errorf("uf2 parse: %w", ferrors.New(ferrors.InvalidData, "num_blocks is zero"))
		}
		if blk.Flags&uf2FlagFamilyID != 0 && blk.FamilyID == 0 {
			return nil, fmt.Errorf("uf2 parse: %w", ferrors.New(ferrors.InvalidData, "family flag set but family_id is zero"))
		}

		out = append(out, blk.Data[:blk.PayloadSize]...)

		if !haveFirst {
			targetAddr = blk.TargetAddr
			familyID = blk.FamilyID
			haveFirst = true

			v, d, err := parseUF2ExtTags(blk.Data[:], blk.PayloadSize)
			if err != nil {
				return nil, fmt.Errorf("uf2 parse: %w", err)
			}
			version, description = v, d
		}
	}

	img := &Image{Addr: targetAddr, Bytes: out, Version: version}
	fw := &Firmware{Kind: KindUF2, Images: []*Image{img}, Parsed: uf2Meta{FamilyID: familyID, Description: description}}
	return fw, nil
}

type uf2Meta struct {
	FamilyID    uint32
	Description string
}

func parseUF2Block(chunk []byte) (*uf2Block, error) {
	if binary.LittleEndian.Uint32(chunk[0:4]) != uf2MagicStart0 ||
		binary.LittleEndian.Uint32(chunk[4:8]) != uf2MagicStart1 {
		return nil, ferrors.New(ferrors.InvalidFile, "bad magicStart")
	}
	if binary.LittleEndian.Uint32(chunk[508:512]) != uf2MagicEnd {
		return nil, ferrors.New(ferrors.InvalidFile, "bad magicEnd")
	}
	blk := &uf2Block{
		Flags:       binary.LittleEndian.Uint32(chunk[8:12]),
		TargetAddr:  binary.LittleEndian.Uint32(chunk[12:16]),
		PayloadSize: binary.LittleEndian.Uint32(chunk[16:20]),
		BlockNo:     binary.LittleEndian.Uint32(chunk[20:24]),
		NumBlocks:   binary.LittleEndian.Uint32(chunk[24:28]),
		FamilyID:    binary.LittleEndian.Uint32(chunk[28:32]),
	}
	copy(blk.Data[:], chunk[32:32+uf2MaxPayload])
	return blk, nil
}

// parseUF2ExtTags scans the unused tail of block 0's data area
// [payloadSize, 476) for 4-byte-aligned (tag:u24, size:u8, value...)
// entries, stopping at a zero tag or zero size.
func parseUF2ExtTags(data []byte, payloadSize uint32) (version, description string, err error) {
	off := int(payloadSize)
	for off+4 <= uf2MaxPayload {
		word := binary.LittleEndian.Uint32(data[off : off+4])
		tag := word >> 8
		sz := int(word & 0xff)
		if tag == 0 || sz == 0 {
			break
		}
		if off+4+sz-4 > uf2MaxPayload {
			return "", "", ferrors.New(ferrors.InvalidData, "extension tag overruns block")
		}
		valLen := sz - 4
		val := data[off+4 : off+4+valLen]
		switch tag {
		case uf2TagVersion:
			version, _ = stream.ReadString(val, 0, len(val))
		case uf2TagDescription:
			description, _ = stream.ReadString(val, 0, len(val))
		}
		advance := alignUp4(sz)
		off += advance
	}
	return version, description, nil
}

func alignUp4(n int) int {
	return (n + 3) &^ 3
}

// Write serializes a Firmware back into 512-byte UF2 blocks; a version
// extension tag is written into block 0 only, mirroring the parser's
// "first block carries metadata" convention. No description tag is
// written.
func (uf2Parser) Write(fw *Firmware) ([]byte, error) {
	if len(fw.Images) == 0 {
		return nil, fmt.Errorf("uf2 write: %w", ferrors.New(ferrors.InvalidData, "no image to write"))
	}
	img := fw.Images[0]
	const payloadPerBlock = 256
	numBlocks := (len(img.Bytes) + payloadPerBlock - 1) / payloadPerBlock
	if numBlocks == 0 {
		numBlocks = 1
	}

	meta, _ := fw.Parsed.(uf2Meta)

	out := make([]byte, 0, numBlocks*uf2BlockSize)
	for i := 0; i < numBlocks; i++ {
		start := i * payloadPerBlock
		end := start + payloadPerBlock
		if end > len(img.Bytes) {
			end = len(img.Bytes)
		}
		payload := img.Bytes[start:end]

		block := make([]byte, uf2BlockSize)
		binary.LittleEndian.PutUint32(block[0:4], uf2MagicStart0)
		binary.LittleEndian.PutUint32(block[4:8], uf2MagicStart1)
		flags := uint32(0)
		if meta.FamilyID != 0 {
			flags |= uf2FlagFamilyID
		}
		binary.LittleEndian.PutUint32(block[8:12], flags)
		binary.LittleEndian.PutUint32(block[12:16], img.Addr+uint32(start))
		binary.LittleEndian.PutUint32(block[16:20], uint32(len(payload)))
		binary.LittleEndian.PutUint32(block[20:24], uint32(i))
		binary.LittleEndian.PutUint32(block[24:28], uint32(numBlocks))
		binary.LittleEndian.PutUint32(block[28:32], meta.FamilyID)
		copy(block[32:32+len(payload)], payload)

		if i == 0 {
			writeUF2VersionTag(block, uint32(len(payload)), img.Version)
		}

		binary.LittleEndian.PutUint32(block[508:512], uf2MagicEnd)
		out = append(out, block...)
	}
	return out, nil
}

func writeUF2VersionTag(block []byte, payloadSize uint32, version string) {
	if version == "" {
		return
	}
	off := 32 + int(payloadSize)
	valLen := alignUp4(len(version) + 1)
	sz := valLen + 4
	if off+sz > 32+uf2MaxPayload {
		return
	}
	word := (uint32(uf2TagVersion) << 8) | uint32(sz)
	binary.LittleEndian.PutUint32(block[off:off+4], word)
	copy(block[off+4:], version)
}
