package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

type Snapshot struct {
	Id        string    `json:"id"`
	Steps     []string  `json:"steps"`
	Step      int       `json:"step"`
	Percent   int       `json:"percent"`
	Count     int64     `json:"count"`
	Error     string    `json:"error,omitempty"`
	Complete  bool      `json:"complete"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Sink receives progress snapshots. Implementations must never block.
type Sink interface {
	Publish(Snapshot)
}

// Indicator tracks one import. Its abort flag is polled by every worker of
// the import at loop boundaries.
type Indicator struct {
	mu       sync.RWMutex
	id       string
	steps    []string
	step     int
	percent  int
	count    int64
	errMsg   string
	complete bool

	aborted atomic.Bool
	sink    Sink
}

// NewIndicator registers a new progress record with the sink (which may be nil).
func NewIndicator(id string, sink Sink) *Indicator {
	p := &Indicator{id: id, sink: sink, step: -1}
	p.publish()
	return p
}

func (p *Indicator) Id() string { return p.id }

func (p *Indicator) AddStep(name string) {
	p.mu.Lock()
	p.steps = append(p.steps, name)
	if p.step == -1 {
		p.step = 0
	}
	p.mu.Unlock()
	p.publish()
}

func (p *Indicator) NextStep() {
	p.mu.Lock()
	if p.step < len(p.steps)-1 {
		p.step++
	}
	p.percent = 0
	p.mu.Unlock()
	p.publish()
}

// CurrentStep returns the name of the active step, "" before any step was added.
func (p *Indicator) CurrentStep() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.step < 0 || p.step >= len(p.steps) {
		return ""
	}
	return p.steps[p.step]
}

func (p *Indicator) SetPercent(percent int) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	p.mu.Lock()
	changed := p.percent != percent
	p.percent = percent
	p.mu.Unlock()
	if changed {
		p.publish()
	}
}

func (p *Indicator) SetCount(count int64) {
	p.mu.Lock()
	p.count = count
	p.mu.Unlock()
	p.publish()
}

// SetError is terminal: it raises the abort flag so workers stop.
// Only the first error is kept.
func (p *Indicator) SetError(msg string) {
	p.mu.Lock()
	if p.errMsg == "" {
		p.errMsg = msg
	}
	p.mu.Unlock()
	p.aborted.Store(true)
	p.publish()
}

func (p *Indicator) Error() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.errMsg
}

// Abort raises the abort flag, recording err when non-nil.
func (p *Indicator) Abort(err error) {
	if err != nil {
		p.SetError(err.Error())
		return
	}
	p.aborted.Store(true)
}

func (p *Indicator) IsAborted() bool {
	return p.aborted.Load()
}

func (p *Indicator) MarkComplete() {
	p.mu.Lock()
	p.complete = true
	p.percent = 100
	p.mu.Unlock()
	p.publish()
}

func (p *Indicator) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.complete
}

func (p *Indicator) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Id:        p.id,
		Steps:     append([]string(nil), p.steps...),
		Step:      p.step,
		Percent:   p.percent,
		Count:     p.count,
		Error:     p.errMsg,
		Complete:  p.complete,
		UpdatedAt: time.Now(),
	}
}

func (p *Indicator) publish() {
	if p.sink == nil {
		return
	}
	p.sink.Publish(p.Snapshot())
}
