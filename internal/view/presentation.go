package view

import (
	"sync"
)

// State is the three-valued view state of the keywords modal.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateResultReady State = "result_ready"
)

// ClosePolicy decides what happens to the stored keywords when the user
// dismisses the modal.
type ClosePolicy int

const (
	// RetainOnClose keeps the last keywords after a close.
	RetainOnClose ClosePolicy = iota
	// ClearOnClose empties the keywords on close.
	ClearOnClose
)

// ParseClosePolicy maps a config value to a ClosePolicy. Unknown values retain.
func ParseClosePolicy(s string) ClosePolicy {
	if s == "clear" {
		return ClearOnClose
	}
	return RetainOnClose
}

// Snapshot is the projection rendered by the page.
type Snapshot struct {
	State    State  `json:"state"`
	Loading  bool   `json:"loading"`
	IsOpen   bool   `json:"isOpen"`
	Keywords string `json:"keywords"`
}

// Presentation holds one session's view state.
//
// Writes from the orchestrator carry the generation returned by BeginLoading
// and are dropped once a newer generation exists, so the latest submission
// always owns the state.
type Presentation struct {
	mu         sync.Mutex
	state      State
	isOpen     bool
	keywords   string
	generation uint64
	policy     ClosePolicy
}

func NewPresentation(policy ClosePolicy) *Presentation {
	return &Presentation{
		state:  StateIdle,
		policy: policy,
	}
}

// BeginLoading enters Loading, opens the modal and clears the current result.
// It returns the generation tag for the new orchestration chain and the
// Loading snapshot taken under the same lock, before any chain can resolve it.
func (p *Presentation) BeginLoading() (uint64, Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.state = StateLoading
	p.isOpen = true
	p.keywords = ""
	return p.generation, p.snapshotLocked()
}

// Resolve stores keywords (possibly empty) and enters ResultReady.
// It reports false when gen is stale.
func (p *Presentation) Resolve(gen uint64, keywords string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation || p.state != StateLoading {
		return false
	}
	p.keywords = keywords
	p.state = StateResultReady
	return true
}

// Fail leaves Loading for Idle without touching the modal flag or result.
// It reports false when gen is stale.
func (p *Presentation) Fail(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation || p.state != StateLoading {
		return false
	}
	p.state = StateIdle
	return true
}

// Close handles the user's dismissal of the modal.
func (p *Presentation) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.isOpen = false
	// A pending chain keeps running and may still resolve into a closed modal.
	if p.state == StateResultReady {
		p.state = StateIdle
	}
	if p.policy == ClearOnClose {
		p.keywords = ""
	}
}

func (p *Presentation) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Presentation) snapshotLocked() Snapshot {
	return Snapshot{
		State:    p.state,
		Loading:  p.state == StateLoading,
		IsOpen:   p.isOpen,
		Keywords: p.keywords,
	}
}

// Generation returns the tag of the newest chain.
func (p *Presentation) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}
