package firmware

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"fwupdcore/pkg/ferrors"
)

// ExportFlags controls which volatile attributes Export omits, the Go
// equivalent of fwupd's FuFirmwareExportFlags: a golden-file comparator
// diffs two exports and wants offsets/sizes left out so a re-packed
// firmware with different padding still matches.
type ExportFlags uint32

const (
	// ExportNoOffset omits each image's addr attribute.
	ExportNoOffset ExportFlags = 1 << iota
	// ExportNoSize omits each image's size attribute.
	ExportNoSize
)

// exportNode is the XML form of a Firmware; it carries xml struct tags, the shape
// encoding/xml needs to marshal and unmarshal attribute-bearing elements
// the way the teacher's arxiv client decodes Atom feed entries
// (tools/DATA_MINER/internal/arxiv/arxiv_client.go).
type exportNode struct {
	XMLName xml.Name     `xml:"firmware"`
	Kind    string       `xml:"kind,attr"`
	Images  []*exportImg `xml:"image"`
}

type exportImg struct {
	ID       string       `xml:"id,attr,omitempty"`
	Addr     string       `xml:"addr,attr,omitempty"`
	Size     string       `xml:"size,attr,omitempty"`
	Version  string       `xml:"version,attr,omitempty"`
	Data     string       `xml:"data"`
	Children []*exportImg `xml:"image"`
}

// Export renders fw as an XML node tree with image data base64-encoded
// into each <image> element, the round-trip format a golden-file test
// diffs against a recorded fixture while ignoring offset/size noise via
// flags (§8 round-trip property).
func Export(fw *Firmware, flags ExportFlags) ([]byte, error) {
	root := &exportNode{Kind: string(fw.Kind)}
	for _, img := range fw.Images {
		root.Images = append(root.Images, exportImage(img, flags))
	}
	out, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("firmware export: %w", err)
	}
	return out, nil
}

func exportImage(img *Image, flags ExportFlags) *exportImg {
	n := &exportImg{
		ID:      img.ID,
		Version: img.Version,
		Data:    base64.StdEncoding.EncodeToString(img.Bytes),
	}
	if flags&ExportNoOffset == 0 {
		n.Addr = fmt.Sprintf("0x%x", img.Addr)
	}
	if flags&ExportNoSize == 0 {
		n.Size = fmt.Sprintf("0x%x", len(img.Bytes))
	}
	for _, c := range img.Children {
		n.Children = append(n.Children, exportImage(c, flags))
	}
	return n
}

// Build parses the XML produced by Export back into a Firmware, the
// inverse half of the round-trip property. Addr and size attributes are
// advisory: when ExportNoOffset/ExportNoSize dropped them, Build leaves
// the corresponding field at its zero value rather than failing.
func Build(buf []byte) (*Firmware, error) {
	var root exportNode
	if err := xml.Unmarshal(buf, &root); err != nil {
		return nil, fmt.Errorf("firmware build: %w", ferrors.New(ferrors.InvalidData, err.Error()))
	}

	fw := &Firmware{Kind: Kind(root.Kind)}
	for _, n := range root.Images {
		img, err := buildImage(n)
		if err != nil {
			return nil, fmt.Errorf("firmware build: %w", err)
		}
		fw.Images = append(fw.Images, img)
	}
	return fw, nil
}

func buildImage(n *exportImg) (*Image, error) {
	raw, err := base64.StdEncoding.DecodeString(n.Data)
	if err != nil {
		return nil, ferrors.New(ferrors.InvalidData, fmt.Sprintf("image %q: bad base64 data: %v", n.ID, err))
	}
	img := &Image{ID: n.ID, Version: n.Version, Bytes: raw}
	if n.Addr != "" {
		var addr uint32
		if _, err := fmt.Sscanf(n.Addr, "0x%x", &addr); err != nil {
			return nil, ferrors.New(ferrors.InvalidData, fmt.Sprintf("image %q: bad addr %q", n.ID, n.Addr))
		}
		img.Addr = addr
	}
	for _, c := range n.Children {
		child, err := buildImage(c)
		if err != nil {
			return nil, err
		}
		img.Children = append(img.Children, child)
	}
	return img, nil
}
