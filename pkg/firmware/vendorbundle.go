package firmware

import (
	"encoding/json"
	"fmt"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/stream"
)

// VendorManifest is the generic JSON contract a vendor bundle (Wacom,
// Jabra, Legion, Wistron) carries alongside its binary payload: a list of
// named sub-images with their own version strings, so a single composite
// transaction can fan writes out to several physical devices from one
// downloaded file.
type VendorManifest struct {
	Vendor string              `json:"vendor"`
	Parts  []VendorManifestPart `json:"parts"`
}

// VendorManifestPart names one payload inside the bundle and the device
// role it targets (e.g. "dock", "cable", "battery").
type VendorManifestPart struct {
	Role    string `json:"role"`
	Version string `json:"version"`
	Offset  uint32 `json:"offset"`
	Length  uint32 `json:"length"`
}

type vendorBundleParser struct{}

func init() { Register(vendorBundleParser{}) }

func (vendorBundleParser) Kind() Kind { return KindVendorBundle }

// Parse expects a payload shaped like an archive Firmware whose top-level
// children include a "manifest.json" entry describing how to slice a
// "payload.bin" entry into per-role images; this is the generalized
// contract behind the several small vendor-specific bundle plugins
// (Wacom, Jabra, Legion, Wistron) rather than a bit-exact reproduction of
// any one of them, since none of original_source/'s retrieved files cover
// their wire format in full.
func (vendorBundleParser) Parse(in *stream.InputStream, flags ParseFlags) (*Firmware, error) {
	inner, err := ParseWithFlags(KindArchive, in, flags)
	if err != nil {
		return nil, fmt.Errorf("vendor bundle parse: %w", err)
	}

	var manifestRaw, payload []byte
	for _, child := range inner.Images[0].Children {
		switch child.ID {
		case "manifest.json":
			manifestRaw = child.Bytes
		case "payload.bin":
			payload = child.Bytes
		}
	}
	if manifestRaw == nil {
		return nil, fmt.Errorf("vendor bundle parse: %w", ferrors.New(ferrors.InvalidFile, "missing manifest.json"))
	}

	var manifest VendorManifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return nil, fmt.Errorf("vendor bundle parse: %w", ferrors.New(ferrors.InvalidData, err.Error()))
	}

	root := &Image{ID: manifest.Vendor}
	for _, part := range manifest.Parts {
		if int(part.Offset)+int(part.Length) > len(payload) {
			return nil, fmt.Errorf("vendor bundle parse: %w", ferrors.New(ferrors.InvalidData,
				fmt.Sprintf("part %q range exceeds payload", part.Role)))
		}
		root.Children = append(root.Children, &Image{
			ID:      part.Role,
			Version: part.Version,
			Bytes:   payload[part.Offset : part.Offset+part.Length],
		})
	}

	return &Firmware{Kind: KindVendorBundle, Images: []*Image{root}, Parsed: manifest}, nil
}
