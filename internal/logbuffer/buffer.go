/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps a ring of recent log entries for the internal
// diagnostics route.
package logbuffer

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a fixed-capacity ring of log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, evicting the oldest when full.
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// Query filters the buffered entries.
type Query struct {
	Level     string
	Component string
	StationID string
	Limit     int
}

// Recent returns matching entries, newest first.
func (b *Buffer) Recent(q Query) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Entry, 0, b.count)
	for i := b.count - 1; i >= 0; i-- {
		entry := b.at(i)
		if q.Level != "" && entry.Level != q.Level {
			continue
		}
		if q.Component != "" && entry.Component != q.Component {
			continue
		}
		if q.StationID != "" {
			id, ok := entry.Fields["station_id"].(string)
			if !ok || id != q.StationID {
				continue
			}
		}
		result = append(result, entry)
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}
	return result
}

// at returns the i-th oldest entry. Callers hold b.mu.
func (b *Buffer) at(i int) Entry {
	if b.count == b.capacity {
		return b.entries[(b.head+i)%b.capacity]
	}
	return b.entries[i]
}

// Stats summarizes the buffer contents.
type Stats struct {
	Capacity   int            `json:"capacity"`
	Count      int            `json:"count"`
	LevelCount map[string]int `json:"level_count"`
}

func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		Capacity:   b.capacity,
		Count:      b.count,
		LevelCount: make(map[string]int),
	}
	for i := 0; i < b.count; i++ {
		stats.LevelCount[b.at(i).Level]++
	}
	return stats
}

// Writer tees zerolog's JSON output into a buffer.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

// NewWriter wraps buffer as an io.Writer. Output is forwarded to fallback
// when one is given.
func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

// Write parses one JSON log line into the buffer. Lines that are not JSON
// are passed through to the fallback untouched.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err == nil {
		w.buffer.Add(parseEntry(raw))
	}

	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}

func parseEntry(raw map[string]any) Entry {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Fields:    make(map[string]any),
	}

	if lvl, ok := raw["level"].(string); ok {
		entry.Level = lvl
		delete(raw, "level")
	}
	if msg, ok := raw["message"].(string); ok {
		entry.Message = msg
		delete(raw, "message")
	}
	if comp, ok := raw["component"].(string); ok {
		entry.Component = comp
		delete(raw, "component")
	}
	switch ts := raw["time"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Timestamp = t
		}
	case float64:
		// zerolog's unix-seconds time format arrives as a number.
		entry.Timestamp = time.Unix(int64(ts), 0).UTC()
	}
	delete(raw, "time")

	for k, v := range raw {
		entry.Fields[k] = v
	}

	return entry
}
