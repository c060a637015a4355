package registry

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"

	"fwupdcore/internal/logging"
	"fwupdcore/pkg/guid"
)

// HotplugKind distinguishes a device arriving from one going away.
type HotplugKind int

const (
	HotplugAdd HotplugKind = iota
	HotplugRemove
)

// HotplugEvent is a single bus attach/detach notification. GUID is
// whatever stable identifier the Backend derived for the device (for the
// eBPF backend, a hash of bus/device/vendor/product ids).
type HotplugEvent struct {
	Kind   HotplugKind
	GUID   string
	VID    uint16
	PID    uint16
	BusNum uint8
	DevNum uint8
}

// Backend produces a stream of HotplugEvents until ctx is cancelled or
// the returned channel is closed. Registry.ProbeLoop is backend-agnostic;
// it only consumes this interface.
type Backend interface {
	Events(ctx context.Context) (<-chan HotplugEvent, error)
	Close() error
}

// hotplugRecord matches the struct a companion eBPF program would write
// into the ring buffer, generalizing NonceEvent
// (internal/driver/device/eBPF_driver.go) from a single uint32 mining
// nonce into a fixed-width USB hotplug record.
type hotplugRecord struct {
	Kind   uint8
	_      [3]byte // padding to align VID/PID on a 2-byte boundary
	VID    uint16
	PID    uint16
	BusNum uint8
	DevNum uint8
}

// ebpfObjects mirrors the teacher's BpfObjects: the program and map
// handles an object-loader would populate from a compiled .o, kept as a
// stub since no BPF compiler is available in this environment.
type ebpfObjects struct {
	XDPHotplugWatch *ebpf.Program `ebpf:"xdp_hotplug_watch"`
	HotplugEvents   *ebpf.Map     `ebpf:"hotplug_events"`
}

func (o *ebpfObjects) Close() error {
	if o.XDPHotplugWatch != nil {
		o.XDPHotplugWatch.Close()
	}
	if o.HotplugEvents != nil {
		o.HotplugEvents.Close()
	}
	return nil
}

// loadEBPFObjects is a stub standing in for the object loader
// bpf2go would normally generate from a compiled hotplug_watch.bpf.c.
func loadEBPFObjects(obj *ebpfObjects, opts *ebpf.CollectionOptions) error {
	return nil
}

// EBPFBackend watches USB hotplug events via an XDP program attached to
// the kernel's USB-over-IP or virtual bus interface, reading decoded
// records off a ring buffer map. It generalizes EBPFDriver
// (internal/driver/device/eBPF_driver.go), which used the identical
// rlimit/link/ringbuf wiring to stream ASIC nonces instead of hotplug
// records.
type EBPFBackend struct {
	objs    ebpfObjects
	xdpLink link.Link
	reader  *ringbuf.Reader
	iface   string
	log     *logging.Logger
}

// NewEBPFBackend attaches to the named network-namespace interface that
// the companion eBPF program monitors for USB hotplug netlink traffic.
func NewEBPFBackend(iface string) (*EBPFBackend, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("ebpf backend: remove memlock rlimit: %w", err)
	}

	b := &EBPFBackend{iface: iface, log: logging.New("registry.ebpf")}

	objs := ebpfObjects{}
	if err := loadEBPFObjects(&objs, nil); err != nil {
		return nil, fmt.Errorf("ebpf backend: load objects: %w", err)
	}
	b.objs = objs

	ifc, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("ebpf backend: interface %s: %w", iface, err)
	}

	l, err := link.AttachXDP(link.XDPOptions{Program: objs.XDPHotplugWatch, Interface: ifc.Index})
	if err != nil {
		return nil, fmt.Errorf("ebpf backend: attach xdp to %s: %w", iface, err)
	}
	b.xdpLink = l

	reader, err := ringbuf.NewReader(objs.HotplugEvents)
	if err != nil {
		b.xdpLink.Close()
		return nil, fmt.Errorf("ebpf backend: ring buffer reader: %w", err)
	}
	b.reader = reader

	b.log.Infof("ebpf hotplug backend attached to %s", iface)
	return b, nil
}

// Events starts a goroutine draining the ring buffer and translating
// each hotplugRecord into a HotplugEvent, until ctx is cancelled.
func (b *EBPFBackend) Events(ctx context.Context) (<-chan HotplugEvent, error) {
	out := make(chan HotplugEvent, 64)
	go func() {
		defer close(out)
		for {
			record, err := b.reader.Read()
			if err != nil {
				if errors.Is(err, ringbuf.ErrClosed) || ctx.Err() != nil {
					return
				}
				b.log.Warnf("ebpf backend: ring buffer read: %v", err)
				continue
			}

			var rec hotplugRecord
			if err := binary.Read(bytes.NewReader(record.RawSample), binary.LittleEndian, &rec); err != nil {
				b.log.Warnf("ebpf backend: decode hotplug record: %v", err)
				continue
			}

			ev := HotplugEvent{
				GUID:   guidFromUSBIDs(rec.VID, rec.PID, rec.BusNum, rec.DevNum),
				VID:    rec.VID,
				PID:    rec.PID,
				BusNum: rec.BusNum,
				DevNum: rec.DevNum,
			}
			if rec.Kind == 0 {
				ev.Kind = HotplugAdd
			} else {
				ev.Kind = HotplugRemove
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the XDP link, ring buffer reader, and loaded programs.
func (b *EBPFBackend) Close() error {
	if b.xdpLink != nil {
		if err := b.xdpLink.Close(); err != nil {
			b.log.Warnf("close xdp link: %v", err)
		}
	}
	if b.reader != nil {
		if err := b.reader.Close(); err != nil {
			b.log.Warnf("close ring buffer reader: %v", err)
		}
	}
	return b.objs.Close()
}

// guidFromUSBIDs derives a stable per-slot identifier the same way fwupd
// hashes its USB instance IDs, keyed on bus/device position so two
// physically distinct ports with the same VID:PID never collide.
func guidFromUSBIDs(vid, pid uint16, bus, dev uint8) string {
	return guid.HashInstanceID(fmt.Sprintf("USB\\VID_%04X&PID_%04X&BUS_%02X&DEV_%02X", vid, pid, bus, dev))
}
