// Package registry owns the set of live Devices: it turns hotplug probe
// events into Device values, resolves GUIDs to instances for
// device.Proxy, and orders composite-transaction installs. It
// generalizes the teacher's single hard-coded ASIC connection
// (internal/driver/device/controller.go) into a table indexed by GUID,
// discovered the way internal/discovery/discovery.go discovered
// hasher-server instances on the network — except the thing being
// scanned for is local hardware, not remote peers.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fwupdcore/internal/device"
	"fwupdcore/internal/logging"
	"fwupdcore/pkg/ferrors"
)

// Registry holds every Device the daemon currently knows about, keyed by
// GUID. It implements device.Lookup so a device.Proxy can resolve
// through it without device importing registry back.
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*device.Device
	lastSeen  map[string]time.Time
	scheduler *device.Scheduler
	pending   map[string]*device.Handle // guid -> pending removal, during RemoveDelay
	removeWin time.Duration
	replugged map[string][]chan struct{} // guid -> subscribers waiting on WaitForReplug
	log       *logging.Logger
}

// New returns an empty Registry. removeDelay is how long a device stays
// addressable after a Remove hotplug event, to absorb a device replugging
// itself mid-update (spec.md §4.4's replug-wait window).
func New(removeDelay time.Duration) *Registry {
	return &Registry{
		devices:   map[string]*device.Device{},
		lastSeen:  map[string]time.Time{},
		scheduler: device.NewScheduler(),
		pending:   map[string]*device.Handle{},
		removeWin: removeDelay,
		replugged: map[string][]chan struct{}{},
		log:       logging.New("registry"),
	}
}

// LastSeen returns when guid was last (re)added to the registry, or the
// zero time if it was never seen.
func (r *Registry) LastSeen(guid string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSeen[guid]
}

// Lookup satisfies device.Lookup: it returns the live Device for guid, or
// nil if it isn't currently registered (either never added, or removed
// and past its RemoveDelay window).
func (r *Registry) Lookup(guid string) *device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[guid]
}

// All returns a snapshot of every currently registered device.
func (r *Registry) All() []*device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*device.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Add registers a newly probed device under guid. If guid was pending
// removal (within its RemoveDelay window), the pending removal is
// cancelled instead — the device replugged in time.
func (r *Registry) Add(guid string, d *device.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.pending[guid]; ok {
		h.Cancel()
		delete(r.pending, guid)
		r.log.Infof("device %s replugged within remove-delay window, cancelling removal", guid)
	}
	r.devices[guid] = d
	r.lastSeen[guid] = time.Now()
	r.log.Infof("device %s (%s) registered", guid, d.Name)

	for _, ch := range r.replugged[guid] {
		close(ch)
	}
	delete(r.replugged, guid)
}

// WaitForReplug implements device.ReplugWaiter: it blocks until guid is
// (re)registered via Add, or until timeout/ctx cancellation, whichever
// comes first. Devices whose attach step emits a remove-usb-cable request
// (CapWaitForReplug) call into this through the Device they were created
// with (device.SetReplugWaiter).
func (r *Registry) WaitForReplug(ctx context.Context, guid string, timeout time.Duration) error {
	ch := make(chan struct{})
	r.mu.Lock()
	if _, ok := r.devices[guid]; ok {
		// already replugged under this GUID before attach got here
		r.mu.Unlock()
		return nil
	}
	r.replugged[guid] = append(r.replugged[guid], ch)
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		r.unsubscribeReplug(guid, ch)
		return fmt.Errorf("wait for replug of %s: %w", guid, ferrors.New(ferrors.Timeout, "device did not re-enumerate within remove-delay window"))
	case <-ctx.Done():
		r.unsubscribeReplug(guid, ch)
		return ctx.Err()
	}
}

func (r *Registry) unsubscribeReplug(guid string, target chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.replugged[guid]
	for i, ch := range subs {
		if ch == target {
			r.replugged[guid] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Remove schedules guid for removal after the registry's RemoveDelay,
// rather than dropping it immediately — giving a device that's
// power-cycling itself mid-install a chance to reappear under the same
// GUID before any device.Proxy holding it starts seeing ferrors.Gone.
func (r *Registry) Remove(guid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[guid]; !ok {
		return
	}
	h := r.scheduler.Schedule(r.removeWin, func() {
		r.mu.Lock()
		delete(r.devices, guid)
		delete(r.pending, guid)
		r.mu.Unlock()
		r.log.Infof("device %s removed after remove-delay window", guid)
	})
	r.pending[guid] = h
}

// InstallPlan is the resolved root device of a single install request.
// It does not list or order the root's AddChild children; the root's own
// WriteFirmware writes those.
type InstallPlan struct {
	Root *device.Device
}

// Plan resolves guid to a live root device, erroring out before any
// transport I/O starts if the device has gone away since it was chosen.
func (r *Registry) Plan(guid string) (*InstallPlan, error) {
	d := r.Lookup(guid)
	if d == nil {
		return nil, fmt.Errorf("plan install for %s: %w", guid, errNotFound(guid))
	}
	return &InstallPlan{Root: d}, nil
}

type errNotFound string

func (e errNotFound) Error() string { return fmt.Sprintf("device %q not registered", string(e)) }

// CompositePlan orders an explicit, flat group of live devices for a
// single composite-transaction install (§4.6's Dock/MCU/PadL/PadR shape),
// as opposed to InstallPlan's single-root nested-children tree.
type CompositePlan struct {
	Members []*device.Device
}

// PlanComposite resolves every guid in the caller-declared order,
// failing the whole plan before any transport I/O starts if any member
// has gone away since it was chosen — the same fail-fast guarantee Plan
// gives a single-device install.
func (r *Registry) PlanComposite(guids []string) (*CompositePlan, error) {
	members := make([]*device.Device, 0, len(guids))
	for _, guid := range guids {
		d := r.Lookup(guid)
		if d == nil {
			return nil, fmt.Errorf("plan composite install for %s: %w", guid, errNotFound(guid))
		}
		members = append(members, d)
	}
	return &CompositePlan{Members: members}, nil
}

// ProbeLoop consumes HotplugEvents from a Backend until ctx is cancelled,
// turning Add/Remove events into Registry updates. The Backend is the
// only thing that knows how devices are actually discovered (eBPF
// ring-buffer watch, sysfs bus walk, ...); the registry just reacts.
func (r *Registry) ProbeLoop(ctx context.Context, b Backend, resolve func(HotplugEvent) (*device.Device, error)) error {
	events, err := b.Events(ctx)
	if err != nil {
		return fmt.Errorf("probe loop: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case HotplugAdd:
				d, err := resolve(ev)
				if err != nil {
					r.log.Warnf("resolve hotplug add %s: %v", ev.GUID, err)
					continue
				}
				r.Add(ev.GUID, d)
			case HotplugRemove:
				r.Remove(ev.GUID)
			}
		}
	}
}
