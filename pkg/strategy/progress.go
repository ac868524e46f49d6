package strategy

import (
	"sync"

	"github.com/fundingarb/trader/pkg/models"
)

// Phase values reported by a running strategy.
const (
	PhasePlanning  = "PLANNING"
	PhaseBalance   = "CHECKING_BALANCE"
	PhaseExecuting = "EXECUTING_LOT"
	PhaseUnwinding = "EMERGENCY_UNWIND"
	PhaseDone      = "DONE"
	PhaseFailed    = "FAILED"
)

// Progress is a mutex-guarded live view of a run, read by the status
// server. All methods are safe on a nil *Progress so strategies can
// run without one.
type Progress struct {
	mu         sync.RWMutex
	phase      string
	currentLot int
	totalLots  int
	lastSpread *models.SpreadSample
	summary    *models.RunSummary
}

func NewProgress() *Progress {
	return &Progress{phase: PhasePlanning}
}

func (p *Progress) SetPhase(phase string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

func (p *Progress) SetLot(current, total int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentLot = current
	p.totalLots = total
}

func (p *Progress) SetSpread(s *models.SpreadSample) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSpread = s
}

func (p *Progress) SetSummary(s *models.RunSummary) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary = s
}

// Snapshot is the JSON shape served by the status endpoint.
type Snapshot struct {
	Phase      string               `json:"phase"`
	CurrentLot int                  `json:"current_lot"`
	TotalLots  int                  `json:"total_lots"`
	LastSpread *models.SpreadSample `json:"last_spread,omitempty"`
	Summary    *models.RunSummary   `json:"summary,omitempty"`
}

func (p *Progress) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Phase:      p.phase,
		CurrentLot: p.currentLot,
		TotalLots:  p.totalLots,
		LastSpread: p.lastSpread,
		Summary:    p.summary,
	}
}
