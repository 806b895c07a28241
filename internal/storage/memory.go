// internal/storage/memory.go
package storage

import (
	"sort"
	"sync"

	"alarm-gateway/internal/data"
)

const (
	DefaultMaxSize = 100
	DefaultLimit   = 10
)

// Filter selects records in Query. Zero values disable a predicate.
// StartTime and EndTime are inclusive and compared lexicographically against
// record timestamps.
type Filter struct {
	StartTime string
	EndTime   string
	DeviceID  string
	Severity  *int
	Status    string
	Limit     int
}

func (f *Filter) matches(key string, rec *data.Record) bool {
	if f.StartTime != "" && key < f.StartTime {
		return false
	}
	if f.EndTime != "" && key > f.EndTime {
		return false
	}
	if f.DeviceID != "" && rec.DeviceID != f.DeviceID {
		return false
	}
	if f.Severity != nil && rec.Severity != *f.Severity {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	return true
}

// Stats is an aggregate view over the whole history.
type Stats struct {
	Total           int            `json:"total"`
	DeviceCounts    map[string]int `json:"device_counts"`
	SeverityCounts  map[int]int    `json:"severity_counts"`
	StatusCounts    map[string]int `json:"status_counts"`
	LatestTimestamp *string        `json:"latest_timestamp"`
	OldestTimestamp *string        `json:"oldest_timestamp"`
}

// HistoryStore keeps the most recent records keyed by their generation
// timestamp. When full, inserting evicts the record with the smallest key.
type HistoryStore struct {
	mu       sync.RWMutex
	records  map[string]data.Record
	keys     []string // ascending
	capacity int
}

func NewHistoryStore(maxSize int) *HistoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &HistoryStore{
		records:  make(map[string]data.Record, maxSize+1),
		keys:     make([]string, 0, maxSize+1),
		capacity: maxSize,
	}
}

// Append stores rec under rec.Timestamp. A record with the same timestamp
// is replaced.
func (s *HistoryStore) Append(rec data.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Timestamp
	if _, exists := s.records[key]; !exists {
		i := sort.SearchStrings(s.keys, key)
		s.keys = append(s.keys, "")
		copy(s.keys[i+1:], s.keys[i:])
		s.keys[i] = key
	}
	s.records[key] = rec

	if len(s.keys) > s.capacity {
		oldest := s.keys[0]
		delete(s.records, oldest)
		s.keys = append(s.keys[:0], s.keys[1:]...)
	}
}

// Latest returns the record with the greatest timestamp.
func (s *HistoryStore) Latest() (data.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.keys) == 0 {
		return data.Record{}, false
	}
	return s.records[s.keys[len(s.keys)-1]], true
}

// Query scans newest-first and stops once f.Limit matches are collected, so
// when more records match than the limit the newest ones win.
func (s *HistoryStore) Query(f Filter) []data.Record {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]data.Record, 0, min(limit, len(s.keys)))
	for i := len(s.keys) - 1; i >= 0 && len(result) < limit; i-- {
		key := s.keys[i]
		if f.EndTime != "" && key > f.EndTime {
			continue
		}
		if f.StartTime != "" && key < f.StartTime {
			break
		}
		rec := s.records[key]
		if f.matches(key, &rec) {
			result = append(result, rec)
		}
	}
	return result
}

func (s *HistoryStore) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Total:          len(s.keys),
		DeviceCounts:   make(map[string]int),
		SeverityCounts: make(map[int]int),
		StatusCounts:   make(map[string]int),
	}
	for _, rec := range s.records {
		stats.DeviceCounts[rec.DeviceID]++
		stats.SeverityCounts[rec.Severity]++
		stats.StatusCounts[rec.Status]++
	}
	if n := len(s.keys); n > 0 {
		latest, oldest := s.keys[n-1], s.keys[0]
		stats.LatestTimestamp = &latest
		stats.OldestTimestamp = &oldest
	}
	return stats
}

func (s *HistoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]data.Record, s.capacity+1)
	s.keys = s.keys[:0]
}

func (s *HistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *HistoryStore) Capacity() int {
	return s.capacity
}
