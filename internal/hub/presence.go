package hub

import (
	"sort"

	"realtime-service/internal/domain"
)

// PresenceNotifier is told about doctor online/offline transitions.
type PresenceNotifier interface {
	DoctorStatusChanged(doctorID string, online bool)
}

// PresenceTracker counts live authenticated connections per doctor and
// reports only the 0->1 and 1->0 transitions.
type PresenceTracker struct {
	counts   map[string]int
	notifier PresenceNotifier
}

func NewPresenceTracker(notifier PresenceNotifier) *PresenceTracker {
	return &PresenceTracker{
		counts:   make(map[string]int),
		notifier: notifier,
	}
}

// OnConnect reports whether the doctor just came online.
func (p *PresenceTracker) OnConnect(userID string, role domain.Role) bool {
	if role != domain.RoleDoctor || userID == "" {
		return false
	}
	p.counts[userID]++
	if p.counts[userID] != 1 {
		return false
	}
	p.notify(userID, true)
	return true
}

// OnDisconnect reports whether the doctor just went offline. Unmatched
// disconnects are ignored.
func (p *PresenceTracker) OnDisconnect(userID string, role domain.Role) bool {
	if role != domain.RoleDoctor || userID == "" {
		return false
	}
	n, ok := p.counts[userID]
	if !ok {
		return false
	}
	if n > 1 {
		p.counts[userID] = n - 1
		return false
	}
	delete(p.counts, userID)
	p.notify(userID, false)
	return true
}

func (p *PresenceTracker) IsOnline(doctorID string) bool {
	return p.counts[doctorID] > 0
}

func (p *PresenceTracker) Connections(doctorID string) int {
	return p.counts[doctorID]
}

func (p *PresenceTracker) OnlineDoctors() []string {
	ids := make([]string, 0, len(p.counts))
	for id := range p.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *PresenceTracker) notify(doctorID string, online bool) {
	if p.notifier != nil {
		p.notifier.DoctorStatusChanged(doctorID, online)
	}
}
