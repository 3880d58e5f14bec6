// Package fanout pushes status updates to connected clients. Delivery is best
// effort: clients recover missed updates through the pull endpoints.
package fanout

import (
	"sort"
	"sync"
	"time"

	"github.com/mstgnz/coursepay/infra/metrics"
)

// Update is one pushed message.
type Update struct {
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	ResourceID string    `json:"resource_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	Data       any       `json:"data,omitempty"`
	At         time.Time `json:"at"`
}

// Sender delivers updates to one connection. Send must not block; it
// returns false when the update was dropped.
type Sender interface {
	ID() string
	Send(u Update) bool
}

func UserSubject(userID string) string { return "user:" + userID }
func JobSubject(jobID string) string   { return "job:" + jobID }

// Hub indexes connections by subject and subjects by connection.
type Hub struct {
	mu       sync.RWMutex
	subjects map[string]map[string]struct{}
	conns    map[string]string
	senders  map[string]Sender
	metrics  *metrics.Metrics
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		subjects: make(map[string]map[string]struct{}),
		conns:    make(map[string]string),
		senders:  make(map[string]Sender),
		metrics:  m,
	}
}

// Register attaches s to subject. A connection belongs to one subject at a
// time; registering again moves it.
func (h *Hub) Register(subject string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := s.ID()
	h.removeLocked(id)

	set, ok := h.subjects[subject]
	if !ok {
		set = make(map[string]struct{})
		h.subjects[subject] = set
	}
	set[id] = struct{}{}
	h.conns[id] = subject
	h.senders[id] = s
}

// Unregister removes the connection from both indexes.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(connID)
}

func (h *Hub) removeLocked(connID string) {
	subject, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	delete(h.senders, connID)
	if set := h.subjects[subject]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.subjects, subject)
		}
	}
}

// Publish sends u to every connection of subject and returns how many
// accepted it.
func (h *Hub) Publish(subject string, u Update) int {
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}

	h.mu.RLock()
	targets := make([]Sender, 0, len(h.subjects[subject]))
	for id := range h.subjects[subject] {
		targets = append(targets, h.senders[id])
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(u) {
			delivered++
		} else {
			h.metrics.IncFanoutDropped()
		}
	}
	return delivered
}

// Connections returns the connection ids of subject, sorted.
func (h *Hub) Connections(subject string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.subjects[subject]))
	for id := range h.subjects[subject] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) SubjectOf(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.conns[connID]
	return s, ok
}
