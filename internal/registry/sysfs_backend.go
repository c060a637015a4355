package registry

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"fwupdcore/internal/logging"
	"fwupdcore/pkg/transport"
)

// SysfsBackend polls /sys/bus/usb/devices on an interval and diffs the
// set of present device directories against the previous poll, emitting
// Add/Remove HotplugEvents. It is the non-eBPF fallback Backend for
// hosts where attaching an XDP program isn't possible (containers,
// restricted kernels), and generalizes the teacher's concurrent
// network-scan pattern (internal/discovery/discovery.go's semaphore-
// bounded worker pool over candidate addresses) into a worker pool over
// candidate sysfs device directories.
type SysfsBackend struct {
	root     string
	interval time.Duration
	workers  int
	log      *logging.Logger

	mu   sync.Mutex
	seen map[string]HotplugEvent
}

// NewSysfsBackend polls dir (typically /sys/bus/usb/devices) every
// interval using up to workers concurrent sysfs reads per pass.
func NewSysfsBackend(dir string, interval time.Duration, workers int) *SysfsBackend {
	if workers <= 0 {
		workers = 8
	}
	return &SysfsBackend{
		root:     dir,
		interval: interval,
		workers:  workers,
		log:      logging.New("registry.sysfs"),
		seen:     map[string]HotplugEvent{},
	}
}

func (b *SysfsBackend) Events(ctx context.Context) (<-chan HotplugEvent, error) {
	out := make(chan HotplugEvent, 64)
	go func() {
		defer close(out)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			b.poll(ctx, out)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

func (b *SysfsBackend) poll(ctx context.Context, out chan<- HotplugEvent) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		b.log.Warnf("sysfs backend: read %s: %v", b.root, err)
		return
	}

	type probed struct {
		name string
		ev   HotplugEvent
		ok   bool
	}

	jobs := make(chan string)
	results := make(chan probed, len(entries))
	var wg sync.WaitGroup

	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				ev, ok := b.probeOne(name)
				results <- probed{name: name, ev: ev, ok: ok}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, e := range entries {
			select {
			case jobs <- e.Name():
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	current := map[string]HotplugEvent{}
	for r := range results {
		if r.ok {
			current[r.name] = r.ev
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for name, ev := range current {
		if _, existed := b.seen[name]; !existed {
			ev.Kind = HotplugAdd
			out <- ev
		}
	}
	for name, ev := range b.seen {
		if _, still := current[name]; !still {
			ev.Kind = HotplugRemove
			out <- ev
		}
	}
	b.seen = current
}

func (b *SysfsBackend) probeOne(name string) (HotplugEvent, bool) {
	dir := filepath.Join(b.root, name)
	vidStr, err := transport.ReadSysfsLine(filepath.Join(dir, "idVendor"))
	if err != nil {
		return HotplugEvent{}, false
	}
	pidStr, err := transport.ReadSysfsLine(filepath.Join(dir, "idProduct"))
	if err != nil {
		return HotplugEvent{}, false
	}
	vid, err1 := strconv.ParseUint(vidStr, 16, 16)
	pid, err2 := strconv.ParseUint(pidStr, 16, 16)
	if err1 != nil || err2 != nil {
		return HotplugEvent{}, false
	}
	return HotplugEvent{
		GUID: guidFromUSBIDs(uint16(vid), uint16(pid), 0, 0),
		VID:  uint16(vid),
		PID:  uint16(pid),
	}, true
}

func (b *SysfsBackend) Close() error { return nil }
