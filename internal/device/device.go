// Package device implements the Device lifecycle state machine: probe,
// setup, detach, write, attach, reload, cleanup, plus the composite
// transaction a multi-part Device (main device + its children) runs
// through in AddChild order. It generalizes the teacher's single
// hard-coded ASIC device (internal/driver/device/controller.go) into a
// registry of arbitrary devices addressed by GUID/instance ID.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fwupdcore/pkg/chunker"
	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/progress"
	"fwupdcore/pkg/transport"
)

// State is one phase of the device write lifecycle. Transitions always
// move forward; Cleanup runs on every exit from the transaction, success
// or failure, mirroring the teacher's
// unloadKernelModule/reloadKernelModule pairing around ASIC access.
type State string

const (
	StateIdle     State = "idle"
	StateProbed   State = "probed"
	StateSetup    State = "setup"
	StateDetached State = "detached"
	StateWriting  State = "writing"
	StateAttached State = "attached"
	StateReloaded State = "reloaded"
	StateDone     State = "done"
)

// Flags modify how ApplyDonor folds another Device's properties into this
// one, replacing the property-copy chains a class hierarchy would use
// for "incorporate" semantics.
type Flags uint32

const (
	FlagNone          Flags = 0
	FlagReplaceVendor Flags = 1 << iota
	FlagReplaceVersion
)

// Device is the tagged value every concrete piece of hardware is
// represented as — no subclassing, just fields that may or may not be
// populated depending on what the device actually supports, queried via
// the Capabilities bitmask.
type Device struct {
	mu sync.Mutex

	InstanceIDs []string
	GUID        string
	Name        string
	Vendor      string
	Version     string
	VersionFmt  VersionFormat

	State State

	transport     transport.Transport
	removeDelay   time.Duration
	caps          Capabilities
	children      []*Device // composite transaction: devices that ride on this one
	lastError     error
	quirk         *Quirk
	replugWaiter  ReplugWaiter
}

// SetReplugWaiter wires the registry (or any other owner) a device needs
// to consult when its attach step requires a physical unplug/replug
// cycle (CapWaitForReplug).
func (d *Device) SetReplugWaiter(w ReplugWaiter) { d.replugWaiter = w }

// SetRemoveDelay overrides the default wait window attach uses for
// CapWaitForReplug devices and the registry uses for its own remove-delay
// bookkeeping.
func (d *Device) SetRemoveDelay(delay time.Duration) { d.removeDelay = delay }

// Capabilities is a bitmask a Device reports instead of a type hierarchy
// telling callers which optional lifecycle steps apply.
type Capabilities uint32

const (
	CapDetach Capabilities = 1 << iota
	CapAttach
	CapReload
	CapVerifyReadback
	CapInteractive
	CapWaitForReplug
	// CapOnlyVersionUpgrade mirrors fwupd's FWUPD_DEVICE_FLAG_ONLY_VERSION_UPGRADE:
	// a write whose firmware version is older than the device's current
	// version is rejected unless the caller passes force (§4.6 "Version
	// handling").
	CapOnlyVersionUpgrade
)

// ReplugWaiter blocks until a device identified by guid reappears under
// the same GUID, or timeout elapses. internal/registry.Registry
// implements this against its own Add/remove-delay bookkeeping; Device
// depends only on this narrow interface so it never imports its owner.
type ReplugWaiter interface {
	WaitForReplug(ctx context.Context, guid string, timeout time.Duration) error
}

// Has reports whether cap is set.
func (d *Device) Has(cap Capabilities) bool { return d.caps&cap != 0 }

// New creates a Device bound to a transport and quirk entry. quirk may be
// nil for devices discovered with no matching quirk rule.
func New(name string, tr transport.Transport, q *Quirk) *Device {
	d := &Device{Name: name, transport: tr, State: StateIdle, removeDelay: 5 * time.Second}
	if q != nil {
		d.quirk = q
		d.caps = q.Capabilities
		d.VersionFmt = VersionFormat(q.VersionFmt)
	}
	return d
}

// AddChild attaches a child device for composite-transaction writes (e.g.
// a dock's cable/battery sub-devices that must be written in a fixed
// order relative to the main device).
func (d *Device) AddChild(child *Device) { d.children = append(d.children, child) }

// InteractiveRequest is a prompt a device lifecycle step can raise mid-
// transaction (e.g. "press the pairing button now"), consumed by
// whatever UI is driving the install.
type InteractiveRequest struct {
	Message string
	Timeout time.Duration
}

// RequestHandler answers an InteractiveRequest; returning an error aborts
// the transaction at that step.
type RequestHandler func(context.Context, InteractiveRequest) error

// WriteFirmware runs the full device lifecycle — probe (implicit, caller
// already has a bound transport), setup, detach, write, attach, reload —
// reporting through prog and prompting through onRequest when the
// device's capability flags require interaction. The composite
// transaction runs every child device's WriteFirmware after the parent's
// own write completes, in AddChild order, matching the Wacom-style
// "write the dock, then write its docked peripherals" pattern from
// spec.md §4.6.
//
// force overrides the CapOnlyVersionUpgrade downgrade guard: a device
// with that capability set rejects fw whose version sorts older than the
// device's current Version unless force is true.
func (d *Device) WriteFirmware(ctx context.Context, fw *firmware.Firmware, prog *progress.Progress, onRequest RequestHandler, force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.cleanup(ctx)

	if err := d.checkVersionUpgrade(fw, force); err != nil {
		d.lastError = err
		return err
	}

	steps := []struct {
		weight int
		fn     func(context.Context, *firmware.Firmware, RequestHandler) error
	}{
		{1, d.setup},
		{1, d.detach},
		{5, func(ctx context.Context, fw *firmware.Firmware, _ RequestHandler) error { return d.write(ctx, fw, nil) }},
		{1, d.attach},
		{1, d.reload},
	}

	for _, s := range steps {
		child := prog.AddStep(s.weight)
		if err := s.fn(ctx, fw, onRequest); err != nil {
			d.lastError = err
			return err
		}
		child.SetPercent(100)
	}

	for _, c := range d.children {
		if err := c.WriteFirmware(ctx, fw, prog.AddStep(1), onRequest, force); err != nil {
			return fmt.Errorf("composite transaction: child %q failed: %w", c.Name, err)
		}
	}

	d.State = StateDone
	return nil
}

// checkVersionUpgrade enforces §4.6's downgrade guard: a device that
// reports CapOnlyVersionUpgrade refuses a write whose firmware version
// sorts older than the device's current Version, unless force is set.
// A device or firmware image with no version recorded has nothing to
// compare, so the guard is a no-op in that case.
func (d *Device) checkVersionUpgrade(fw *firmware.Firmware, force bool) error {
	if !d.Has(CapOnlyVersionUpgrade) || force {
		return nil
	}
	if d.Version == "" || len(fw.Images) == 0 || fw.Images[0].Version == "" {
		return nil
	}
	if CompareVersions(fw.Images[0].Version, d.Version, d.VersionFmt) < 0 {
		return fmt.Errorf("device write: %w", ferrors.New(ferrors.NotSupported,
			fmt.Sprintf("firmware version %s is older than current version %s", fw.Images[0].Version, d.Version)))
	}
	return nil
}

// CompositeTransaction writes firmware to every device in members, in the
// caller-supplied order, bracketed by a single prepare/cleanup pair run
// exactly once regardless of how many devices participate —
// generalizing §4.6's composite_prepare/composite_cleanup plugin hooks.
// This is distinct from each member's own per-device cleanup (run inside
// WriteFirmware via defer): composite_prepare/cleanup operate on the
// shared controller (e.g. switching a dock into flash-loader mode) rather
// than any single device's transport.
func CompositeTransaction(ctx context.Context, members []*Device, fw *firmware.Firmware, prog *progress.Progress, onRequest RequestHandler, prepare, cleanup func(context.Context) error, force bool) error {
	if prepare != nil {
		if err := prepare(ctx); err != nil {
			return fmt.Errorf("composite prepare: %w", err)
		}
	}

	var firstErr error
	for _, m := range members {
		if err := m.WriteFirmware(ctx, fw, prog.AddStep(1), onRequest, force); err != nil {
			firstErr = fmt.Errorf("composite transaction: device %q failed: %w", m.Name, err)
			break
		}
	}

	if cleanup != nil {
		if err := cleanup(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("composite cleanup: %w", err)
		}
	}

	return firstErr
}

func (d *Device) setup(ctx context.Context, fw *firmware.Firmware, _ RequestHandler) error {
	if err := d.transport.Open(ctx); err != nil {
		return fmt.Errorf("device setup: %w", err)
	}
	d.State = StateSetup
	return nil
}

func (d *Device) detach(ctx context.Context, fw *firmware.Firmware, onRequest RequestHandler) error {
	if !d.Has(CapDetach) {
		d.State = StateDetached
		return nil
	}
	if d.Has(CapInteractive) && onRequest != nil {
		if err := onRequest(ctx, InteractiveRequest{Message: "put " + d.Name + " into update mode", Timeout: 30 * time.Second}); err != nil {
			return fmt.Errorf("device detach: %w", ferrors.New(ferrors.AuthFailed, err.Error()))
		}
	}
	d.State = StateDetached
	return nil
}

// write chunks the firmware payload and streams it through the
// transport, generalizing pollForNonce's per-attempt retry loop
// (controller.go) into a bounded-retry chunk writer.
func (d *Device) write(ctx context.Context, fw *firmware.Firmware, _ *progress.Progress) error {
	payload := fw.Bytes()
	blockSize := uint32(4096)
	if d.quirk != nil && d.quirk.BlockSize != 0 {
		blockSize = d.quirk.BlockSize
	}
	chunks, err := chunker.ChunkArray(payload, 0, blockSize, 0)
	if err != nil {
		return fmt.Errorf("device write: %w", err)
	}

	const maxRetries = 3
	for _, c := range chunks {
		var lastErr error
		for attempt := 0; attempt < maxRetries; attempt++ {
			if err := d.transport.Write(ctx, c.Data); err != nil {
				lastErr = err
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			return fmt.Errorf("device write: chunk %d: %w", c.Idx, ferrors.New(ferrors.Write, lastErr.Error()))
		}
	}
	d.State = StateWriting
	return nil
}

// attach brings the device back out of update mode. A device with
// CapWaitForReplug emits a remove-usb-cable request and then blocks on
// the registry's replug notification for up to its RemoveDelay — the
// daemon side of spec.md §4.4's physical-cable-swap flow; a device that
// never reappears fails the transaction with Timeout rather than hanging
// forever (§7 S6).
func (d *Device) attach(ctx context.Context, fw *firmware.Firmware, onRequest RequestHandler) error {
	if !d.Has(CapAttach) {
		d.State = StateAttached
		return nil
	}

	if d.Has(CapWaitForReplug) {
		if onRequest != nil {
			if err := onRequest(ctx, InteractiveRequest{Message: "remove-usb-cable", Timeout: d.removeDelay}); err != nil {
				return fmt.Errorf("device attach: %w", ferrors.New(ferrors.AuthFailed, err.Error()))
			}
		}
		if d.replugWaiter == nil {
			return fmt.Errorf("device attach: %w", ferrors.New(ferrors.Internal, "no replug waiter configured"))
		}
		if err := d.replugWaiter.WaitForReplug(ctx, d.GUID, d.removeDelay); err != nil {
			return fmt.Errorf("device attach: %w", err)
		}
	}

	d.State = StateAttached
	return nil
}

// reload re-reads the device's version after a write: the firmware that
// was just flashed is now what the device reports, replacing whatever
// Version it carried before this transaction (§4.6 "Version handling").
// A device without CapReload never ran a step that could change its
// reported version, so it is left untouched.
func (d *Device) reload(ctx context.Context, fw *firmware.Firmware, _ RequestHandler) error {
	if !d.Has(CapReload) {
		d.State = StateReloaded
		return nil
	}
	if len(fw.Images) > 0 && fw.Images[0].Version != "" {
		d.Version = fw.Images[0].Version
	}
	d.State = StateReloaded
	return nil
}

func (d *Device) cleanup(ctx context.Context) {
	_ = d.transport.Close()
}

// ApplyDonor folds select fields from donor into d according to flags,
// the device-layer equivalent of fwupd's "incorporate" pattern: a newly
// probed device may need to inherit a previous session's vendor/version
// strings without a full property-copy inheritance chain.
func (d *Device) ApplyDonor(donor *Device, flags Flags) {
	if flags&FlagReplaceVendor != 0 && donor.Vendor != "" {
		d.Vendor = donor.Vendor
	}
	if flags&FlagReplaceVersion != 0 && donor.Version != "" {
		d.Version = donor.Version
	}
}

// Lookup resolves a GUID to its live Device, implemented by whatever
// owns the device's lifetime (internal/registry.Registry). Proxy depends
// only on this narrow interface so the device package never imports its
// own caller.
type Lookup interface {
	Lookup(guid string) *Device
}

// Proxy is a non-owning handle to a Device held by something outside the
// registry (a UI, a pending install job). Once the registry removes the
// underlying device, every method on Proxy returns ferrors.Gone instead
// of leaving a dangling pointer alive, replacing a shared-ownership
// reference count with an explicit liveness check.
type Proxy struct {
	owner Lookup
	guid  string
}

// NewProxy issues a non-owning handle to the device identified by guid.
func NewProxy(owner Lookup, guid string) *Proxy {
	return &Proxy{owner: owner, guid: guid}
}

// Get resolves the proxy to its live Device, or ferrors.Gone if it has
// been removed from the registry since the Proxy was issued.
func (p *Proxy) Get() (*Device, error) {
	d := p.owner.Lookup(p.guid)
	if d == nil {
		return nil, ferrors.Gone
	}
	return d, nil
}
