// Package progress implements the hierarchical progress tree a device
// transaction reports through: a parent step allocates weighted child steps
// and its own percentage is derived from them, so a caller watching only
// the root sees a smooth 0-100 sweep across detach/write/attach/reload.
package progress

import "sync"

// Step names the phase a Progress node currently represents, mirroring the
// device-lifecycle states a UI or log line wants to show.
type Step string

const (
	StepIdle     Step = "idle"
	StepDetach   Step = "detach"
	StepWrite    Step = "write"
	StepAttach   Step = "attach"
	StepReload   Step = "reload"
	StepVerify   Step = "verify"
	StepCleanup  Step = "cleanup"
)

// Progress is one node in the tree. The root is created with New; children
// are added with AddStep and inherit a weighted slice of the parent's span.
type Progress struct {
	mu       sync.Mutex
	step     Step
	percent  float64
	children []*childStep
	onChange func(*Progress)
}

type childStep struct {
	weight int
	node   *Progress
}

// New creates a root progress node.
func New() *Progress {
	return &Progress{step: StepIdle}
}

// OnChange installs a callback fired after every SetStep or SetPercent
// call on this node. A change in a child node does not fire the parent's
// callback.
func (p *Progress) OnChange(fn func(*Progress)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// SetStep records the current named phase without changing percent.
func (p *Progress) SetStep(s Step) {
	p.mu.Lock()
	p.step = s
	cb := p.onChange
	p.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// Step returns the current named phase.
func (p *Progress) Step() Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.step
}

// AddStep allocates a child node that owns `weight` parts of the parent's
// span (weights need not sum to any particular total; they are normalized
// across siblings). The device lifecycle calls this once per phase before
// starting it, e.g. root.AddStep(1) for detach, root.AddStep(5) for write,
// root.AddStep(1) for attach.
func (p *Progress) AddStep(weight int) *Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	child := &Progress{step: StepIdle}
	p.children = append(p.children, &childStep{weight: weight, node: child})
	return child
}

// SetPercent sets a leaf node's own completion percentage directly; used by
// transports reporting byte-level write progress with no further children.
func (p *Progress) SetPercent(pct float64) {
	p.mu.Lock()
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	p.percent = pct
	cb := p.onChange
	p.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// Percent returns the node's effective completion percentage: its own
// SetPercent value if it has no children, otherwise the weighted average
// of its children's effective percentages.
func (p *Progress) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.children) == 0 {
		return p.percent
	}

	var totalWeight int
	var sum float64
	for _, c := range p.children {
		totalWeight += c.weight
		sum += float64(c.weight) * c.node.Percent()
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / float64(totalWeight)
}
