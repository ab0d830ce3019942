package coordinator

import (
	"sync"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

// History is the coordinator's in-memory record of device failures and
// completed sessions. Both sides are capped per device and pruned on
// the retention ticker; nothing here is durable.
type History struct {
	mu         sync.Mutex
	failures   map[string][]time.Time
	records    map[string][]domain.SessionRecord
	failureCap int
	recordCap  int
}

// NewHistory creates a history with the given per-device caps.
func NewHistory(failureCap, recordCap int) *History {
	if failureCap <= 0 {
		failureCap = 100
	}
	if recordCap <= 0 {
		recordCap = 50
	}
	return &History{
		failures:   make(map[string][]time.Time),
		records:    make(map[string][]domain.SessionRecord),
		failureCap: failureCap,
		recordCap:  recordCap,
	}
}

// AddFailure records one failure timestamp for the device, evicting
// the oldest entry past the cap.
func (h *History) AddFailure(deviceID string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.failures[deviceID], at)
	if len(list) > h.failureCap {
		list = list[len(list)-h.failureCap:]
	}
	h.failures[deviceID] = list
}

// FailureCountSince counts failures for the device at or after since.
func (h *History) FailureCountSince(deviceID string, since time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, t := range h.failures[deviceID] {
		if !t.Before(since) {
			count++
		}
	}
	return count
}

// AddRecord archives a completed session, evicting the oldest past
// the cap.
func (h *History) AddRecord(rec *domain.SessionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.records[rec.DeviceID], *rec)
	if len(list) > h.recordCap {
		list = list[len(list)-h.recordCap:]
	}
	h.records[rec.DeviceID] = list
}

// RecentSessions returns up to limit most recent completed sessions
// for the device, newest last. Implements strategy.HistoryProvider.
func (h *History) RecentSessions(deviceID string, limit int) []domain.SessionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.records[deviceID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]domain.SessionRecord(nil), list...)
}

// Prune drops failures and session records older than cutoff. Devices
// left with no entries are forgotten entirely.
func (h *History) Prune(cutoff time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for dev, list := range h.failures {
		kept := list[:0]
		for _, t := range list {
			if !t.Before(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(h.failures, dev)
		} else {
			h.failures[dev] = kept
		}
	}

	for dev, list := range h.records {
		kept := list[:0]
		for _, rec := range list {
			if !rec.EndedAt.Before(cutoff) {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(h.records, dev)
		} else {
			h.records[dev] = kept
		}
	}
}
