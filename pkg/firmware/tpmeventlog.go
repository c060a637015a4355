package firmware

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/stream"
)

const (
	tpmV1HeaderSize  = 32
	tpmMaxEventData  = 1 * 1024 * 1024
	tpmPCRStartup    = 0
	tpmEventNoAction = 0x00000003

	// tpmSpecIDSignature is the TCG_EfiSpecIDEventStruct signature that
	// opens a crypto-agile (v2) log's no-action prologue event, fixed at
	// offset 32 (right after a v1-shaped 32-byte item header whose
	// data_size field gives the prologue's length).
	tpmSpecIDSignature = "Spec ID Event03\x00"
)

// TPMEventLogAlgo names a PCR-bank hash algorithm, sized as in the TCG log
// spec (SHA1=20, SHA256=32, SHA384=48, SHA512=64, SM3_256=32 bytes).
type TPMEventLogAlgo string

const (
	AlgoSHA1   TPMEventLogAlgo = "sha1"
	AlgoSHA256 TPMEventLogAlgo = "sha256"
	AlgoSHA384 TPMEventLogAlgo = "sha384"
	AlgoSHA512 TPMEventLogAlgo = "sha512"
	AlgoSM3    TPMEventLogAlgo = "sm3_256"
)

var tpmAlgoSizes = map[TPMEventLogAlgo]int{
	AlgoSHA1:   20,
	AlgoSHA256: 32,
	AlgoSHA384: 48,
	AlgoSHA512: 64,
	AlgoSM3:    32,
}

// tpmAlgIDs are the TCG Algorithm Registry TPM_ALG_ID values a v2 log's
// per-digest blocks are tagged with, not an fwupd-specific encoding.
var tpmAlgIDs = map[uint16]TPMEventLogAlgo{
	0x0004: AlgoSHA1,
	0x000B: AlgoSHA256,
	0x000C: AlgoSHA384,
	0x000D: AlgoSHA512,
	0x0012: AlgoSM3,
}

var tpmAllAlgos = []TPMEventLogAlgo{AlgoSHA1, AlgoSHA256, AlgoSHA384, AlgoSHA512, AlgoSM3}

// TPMEventLogItem is one decoded measurement record, from either a v1 or a
// v2 (crypto-agile) event log. Checksums holds whichever algorithm banks
// the record actually carries: a v1 item always has exactly one entry
// (AlgoSHA1); a v2 item carries one entry per {alg,digest} pair its
// digest_count listed.
type TPMEventLogItem struct {
	PCR       uint32
	Type      uint32
	Checksums map[TPMEventLogAlgo][]byte
	Data      []byte
	legacy    bool // true for v1 items: SHA1 folds into every bank
}

type tpmEventLogParser struct{}

func init() { Register(tpmEventLogParser{}) }

func (tpmEventLogParser) Kind() Kind { return KindTPMEventLog }

// Parse decodes a TPM event log, auto-detecting the crypto-agile v2 format
// by its fixed-offset "Spec ID Event03" signature (§4.2.d) and falling
// back to the legacy v1 format otherwise.
func (tpmEventLogParser) Parse(in *stream.InputStream, flags ParseFlags) (*Firmware, error) {
	buf := in.Bytes()

	var items []TPMEventLogItem
	var err error
	if isTPMEventLogV2(buf) {
		items, err = parseTPMEventLogV2(buf)
	} else {
		items, err = parseTPMEventLogV1(buf)
	}
	if err != nil {
		return nil, fmt.Errorf("tpm eventlog parse: %w", err)
	}

	return &Firmware{
		Kind:   KindTPMEventLog,
		Images: []*Image{{Bytes: buf}},
		Parsed: items,
	}, nil
}

// parseTPMEventLogV1 decodes a v1-format TPM event log: a sequence of
// fixed 32-byte headers (pcr, type, sha1 digest, data size) each followed
// by `data size` bytes, per fu-tpm-eventlog-v1.c.
func parseTPMEventLogV1(buf []byte) ([]TPMEventLogItem, error) {
	var items []TPMEventLogItem
	off := 0
	for off < len(buf) {
		if off+tpmV1HeaderSize > len(buf) {
			return nil, ferrors.New(ferrors.InvalidFile, "truncated header")
		}
		item := TPMEventLogItem{
			PCR:    binary.LittleEndian.Uint32(buf[off : off+4]),
			Type:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			legacy: true,
		}
		var sha1digest [20]byte
		copy(sha1digest[:], buf[off+8:off+28])
		item.Checksums = map[TPMEventLogAlgo][]byte{AlgoSHA1: sha1digest[:]}
		dataSz := binary.LittleEndian.Uint32(buf[off+28 : off+32])
		if dataSz > tpmMaxEventData {
			return nil, ferrors.New(ferrors.InvalidData, "event data exceeds 1MiB")
		}
		off += tpmV1HeaderSize
		if off+int(dataSz) > len(buf) {
			return nil, ferrors.New(ferrors.InvalidFile, "truncated event data")
		}
		item.Data = buf[off : off+int(dataSz)]
		off += int(dataSz)
		items = append(items, item)
	}
	return items, nil
}

// isTPMEventLogV2 reports whether buf opens with a v1-shaped no-action
// item header (pcr=0, type=EV_NO_ACTION) whose data is the
// TCG_EfiSpecIDEventStruct prologue, the marker fu-tpm-eventlog-v2.c's
// dispatcher uses to pick the crypto-agile parser over the legacy one.
func isTPMEventLogV2(buf []byte) bool {
	if len(buf) < tpmV1HeaderSize+len(tpmSpecIDSignature) {
		return false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != 0 {
		return false
	}
	if binary.LittleEndian.Uint32(buf[4:8]) != tpmEventNoAction {
		return false
	}
	return bytes.Equal(buf[tpmV1HeaderSize:tpmV1HeaderSize+len(tpmSpecIDSignature)], []byte(tpmSpecIDSignature))
}

// parseTPMEventLogV2 decodes a crypto-agile v2 event log: the no-action
// prologue (consumed here only for its data_size, to locate the first
// real record; the per-algorithm digest_sizes table it carries is not
// trusted, matching fu_tpm_eventlog_v2_hash_get_size's hard-coded sizes)
// followed by a sequence of TCG_PCR_EVENT2 records: pcr, type,
// digest_count, that many {alg:u16, digest} pairs, then a u32 event size
// and the event bytes. Grounded on fu-tpm-eventlog-v2.c's
// fu_tpm_eventlog_v2_parse/fu_tpm_eventlog_v2_parse_item.
func parseTPMEventLogV2(buf []byte) ([]TPMEventLogItem, error) {
	hdrsz := binary.LittleEndian.Uint32(buf[28:32])
	idx := tpmV1HeaderSize + int(hdrsz)
	if idx > len(buf) {
		return nil, ferrors.New(ferrors.InvalidFile, "truncated spec-id prologue")
	}

	var items []TPMEventLogItem
	for idx < len(buf) {
		item, next, err := parseTPMEventLogV2Item(buf, idx)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		idx = next
	}
	return items, nil
}

func parseTPMEventLogV2Item(buf []byte, off int) (TPMEventLogItem, int, error) {
	if off+12 > len(buf) {
		return TPMEventLogItem{}, 0, ferrors.New(ferrors.InvalidFile, "truncated v2 item header")
	}
	item := TPMEventLogItem{
		PCR:       binary.LittleEndian.Uint32(buf[off : off+4]),
		Type:      binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		Checksums: map[TPMEventLogAlgo][]byte{},
	}
	digestCount := binary.LittleEndian.Uint32(buf[off+8 : off+12])
	idx := off + 12

	for i := uint32(0); i < digestCount; i++ {
		if idx+2 > len(buf) {
			return TPMEventLogItem{}, 0, ferrors.New(ferrors.InvalidFile, "truncated v2 digest")
		}
		algID := binary.LittleEndian.Uint16(buf[idx : idx+2])
		idx += 2
		algo, ok := tpmAlgIDs[algID]
		if !ok {
			return TPMEventLogItem{}, 0, ferrors.New(ferrors.NotSupported,
				fmt.Sprintf("hash algorithm 0x%x size not known", algID))
		}
		size := tpmAlgoSizes[algo]
		if idx+size > len(buf) {
			return TPMEventLogItem{}, 0, ferrors.New(ferrors.InvalidFile, "truncated v2 digest")
		}
		item.Checksums[algo] = append([]byte{}, buf[idx:idx+size]...)
		idx += size
	}

	if idx+4 > len(buf) {
		return TPMEventLogItem{}, 0, ferrors.New(ferrors.InvalidFile, "truncated v2 event size")
	}
	dataSz := binary.LittleEndian.Uint32(buf[idx : idx+4])
	idx += 4
	if dataSz > tpmMaxEventData {
		return TPMEventLogItem{}, 0, ferrors.New(ferrors.NotSupported, "event log item too large")
	}
	if idx+int(dataSz) > len(buf) {
		return TPMEventLogItem{}, 0, ferrors.New(ferrors.InvalidFile, "truncated v2 event data")
	}
	item.Data = buf[idx : idx+int(dataSz)]
	idx += int(dataSz)

	return item, idx, nil
}

// CalcTPMChecksums folds the event log's items for the given PCR into a
// running per-algorithm digest, replaying the same measurement extend a
// real TPM would have performed: acc = Hash(acc || digest). This is
// fu_tpm_eventlog_calc_checksums generalized across all five bank sizes;
// the SM3_256 bank is returned unfolded (see foldTPMDigest).
//
// The PCR-0, no-action (type 0x3) event at index 0 seeds every
// accumulator's *last* byte with the locality value instead of folding a
// digest, matching FuStructTpmEfiStartupLocalityEvent handling.
func CalcTPMChecksums(items []TPMEventLogItem, pcr uint32) (map[TPMEventLogAlgo][]byte, error) {
	acc := map[TPMEventLogAlgo][]byte{}
	for _, a := range tpmAllAlgos {
		acc[a] = make([]byte, tpmAlgoSizes[a])
	}
	var measured bool

	for i, item := range items {
		if item.PCR != pcr {
			continue
		}
		if i == 0 && pcr == tpmPCRStartup && item.Type == tpmEventNoAction {
			locality, ok := parseStartupLocalityEvent(item.Data)
			if ok {
				for _, a := range tpmAllAlgos {
					acc[a][len(acc[a])-1] = locality
				}
				continue
			}
		}
		for _, a := range tpmAllAlgos {
			digest := hashTPMItem(a, item)
			if digest == nil {
				continue
			}
			acc[a] = foldTPMDigest(a, acc[a], digest)
			measured = true
		}
	}

	if !measured {
		return nil, fmt.Errorf("tpm checksum: %w", ferrors.New(ferrors.InvalidData,
			fmt.Sprintf("no measurements found for PCR %d", pcr)))
	}
	return acc, nil
}

// parseStartupLocalityEvent extracts the single locality byte from a
// FuStructTpmEfiStartupLocalityEvent payload: a NUL-terminated signature
// string ("StartupLocality") followed by one byte.
func parseStartupLocalityEvent(data []byte) (byte, bool) {
	const sig = "StartupLocality"
	if len(data) < len(sig)+2 || string(data[:len(sig)]) != sig || data[len(sig)] != 0 {
		return 0, false
	}
	return data[len(sig)+1], true
}

// hashTPMItem returns the digest of item that would extend a PCR bank
// under algo, or nil if item carries no digest for that bank. A present
// all-zero digest still counts: it is returned, not treated as absent,
// matching fu_tpm_eventlog_calc_checksums's "checksum != NULL" presence
// check with no zero guard. A v1 item carries only a SHA1 digest and
// folds it into every bank, since v1 logs predate multi-algorithm banks.
func hashTPMItem(algo TPMEventLogAlgo, item TPMEventLogItem) []byte {
	if d, ok := item.Checksums[algo]; ok {
		return d
	}
	if item.legacy {
		return item.Checksums[AlgoSHA1]
	}
	return nil
}

func foldTPMDigest(algo TPMEventLogAlgo, acc, digest []byte) []byte {
	combined := append(append([]byte{}, acc...), digest...)
	switch algo {
	case AlgoSHA1:
		h := sha1.Sum(combined)
		return h[:]
	case AlgoSHA256:
		h := sha256.Sum256(combined)
		return h[:]
	case AlgoSHA384:
		h := sha512.Sum384(combined)
		return h[:]
	case AlgoSHA512:
		h := sha512.Sum512(combined)
		return h[:]
	default:
		// SM3_256 folding needs an SM3 primitive; none of the retrieval
		// pack's dependencies provide one, so the bank is left unfolded
		// while the raw per-item SM3 digest remains available via
		// TPMEventLogItem.Checksums for callers that need it directly.
		return acc
	}
}
