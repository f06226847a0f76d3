// Package live provides a shared in-memory model of the running long-short
// strategy (status line, positions, last cycle) with pub/sub for WebSocket
// and gRPC streaming.
package live

import (
	"sync"
	"time"

	"meridian/internal/domain"
	"meridian/internal/longshort"
	"meridian/pkg/meridian"
)

// Compile-time interface check.
var _ longshort.Observer = (*StatusModel)(nil)

// StatusModel holds the latest strategy state and fans changes out to
// subscribers. It implements longshort.Observer.
type StatusModel struct {
	mu        sync.RWMutex
	status    string
	positions []meridian.Position
	lastCycle *meridian.CycleSummary
	updated   time.Time
	now       func() time.Time

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan meridian.StatusEvent
}

// NewStatusModel creates an empty model.
func NewStatusModel() *StatusModel {
	return &StatusModel{
		now:  time.Now,
		subs: make(map[int]chan meridian.StatusEvent),
	}
}

// OnStatus records the runner's status line.
func (m *StatusModel) OnStatus(status string) {
	m.mu.Lock()
	m.status = status
	ev := m.eventLocked(meridian.EventStatus)
	m.mu.Unlock()
	m.publish(ev)
}

// OnPositions records a positions snapshot.
func (m *StatusModel) OnPositions(positions []domain.Position) {
	m.mu.Lock()
	m.positions = WirePositions(positions)
	ev := m.eventLocked(meridian.EventPositions)
	m.mu.Unlock()
	m.publish(ev)
}

// OnCycle records the summary of a finished rebalance cycle.
func (m *StatusModel) OnCycle(report *longshort.CycleReport) {
	if report == nil {
		return
	}
	m.mu.Lock()
	m.lastCycle = Summarize(report)
	ev := m.eventLocked(meridian.EventCycle)
	m.mu.Unlock()
	m.publish(ev)
}

// Apply replaces the model state with a received event, as a mirror of a
// remote model does.
func (m *StatusModel) Apply(ev meridian.StatusEvent) {
	m.mu.Lock()
	m.status = ev.Status
	m.positions = ev.Positions
	m.lastCycle = ev.LastCycle
	m.updated = ev.At
	out := m.copyLocked()
	out.Kind = ev.Kind
	m.mu.Unlock()
	m.publish(out)
}

// Snapshot returns the current state as a snapshot event.
func (m *StatusModel) Snapshot() meridian.StatusEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev := m.copyLocked()
	ev.Kind = meridian.EventSnapshot
	return ev
}

// eventLocked stamps the state and returns it as an event of kind. mu must
// be held for writing.
func (m *StatusModel) eventLocked(kind string) meridian.StatusEvent {
	m.updated = m.now().UTC()
	ev := m.copyLocked()
	ev.Kind = kind
	return ev
}

func (m *StatusModel) copyLocked() meridian.StatusEvent {
	ev := meridian.StatusEvent{
		At:        m.updated,
		Status:    m.status,
		Positions: append([]meridian.Position{}, m.positions...),
	}
	if m.lastCycle != nil {
		c := *m.lastCycle
		ev.LastCycle = &c
	}
	return ev
}

// publish notifies subscribers with a non-blocking send.
func (m *StatusModel) publish(ev meridian.StatusEvent) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber, drop event. The next one carries full state.
		}
	}
}

// Subscribe creates a new subscription channel for status events.
func (m *StatusModel) Subscribe(bufSize int) (id int, ch <-chan meridian.StatusEvent) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id = m.nextSubID
	m.nextSubID++
	c := make(chan meridian.StatusEvent, bufSize)
	m.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (m *StatusModel) Unsubscribe(id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		close(ch)
		delete(m.subs, id)
	}
}

// ---------------------------------------------------------------------------
// Wire conversion
// ---------------------------------------------------------------------------

// WirePositions converts live positions to their wire form.
func WirePositions(positions []domain.Position) []meridian.Position {
	out := make([]meridian.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, meridian.Position{
			Symbol:      p.Symbol,
			Side:        string(p.Side),
			Qty:         p.Qty,
			MarketValue: p.MarketValue,
		})
	}
	return out
}

// Summarize condenses a cycle report.
func Summarize(r *longshort.CycleReport) *meridian.CycleSummary {
	s := &meridian.CycleSummary{
		Started:     r.Started.UTC(),
		Long:        append([]string{}, r.Ranking.Long...),
		Short:       append([]string{}, r.Ranking.Short...),
		Equity:      r.Equity,
		QtyPerLong:  r.Target.QtyPerLong,
		QtyPerShort: r.Target.QtyPerShort,
	}
	for _, p := range r.Phases {
		s.Phases = append(s.Phases, string(p))
	}
	for _, res := range r.Submitted() {
		switch res.Status {
		case domain.ResultSubmitted:
			s.Orders++
		case domain.ResultRejected:
			s.Rejected++
		}
	}
	for _, err := range r.SizingErrors {
		s.SizingErrors = append(s.SizingErrors, err.Error())
	}
	return s
}
