package api

import "time"

// Wire types for the consumer API. The client package decodes into
// these same structs, so the two sides cannot drift.

// EnrollRequest is the POST /v1/entities body.
type EnrollRequest struct {
	Name string `json:"name" binding:"required"`
}

// EntityView is one enrolled entity with its open-epoch total joined in.
type EntityView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	State        string     `json:"state"`
	Generation   uint64     `json:"generation"`
	EnrolledAt   time.Time  `json:"enrolled_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
	TotalSeconds int64      `json:"total_seconds"`
	Epoch        string     `json:"epoch,omitempty"`
}

// TotalView is the current accumulated usage for one entity.
type TotalView struct {
	Entity           string    `json:"entity"`
	Name             string    `json:"name"`
	TotalSeconds     int64     `json:"total_seconds"`
	Epoch            string    `json:"epoch,omitempty"`
	SuspiciousBursts int       `json:"suspicious_bursts,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DayView is one finalized accounting day.
type DayView struct {
	Day     string `json:"day"`
	Seconds int64  `json:"seconds"`
}

// HistoryView is an entity's recent day aggregates plus the open day.
type HistoryView struct {
	Entity string    `json:"entity"`
	Name   string    `json:"name"`
	Days   []DayView `json:"days"`
	Open   *DayView  `json:"open,omitempty"`
}

// GapView is one suspected accounting gap.
type GapView struct {
	Entity         string    `json:"entity"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	SuspectedCause string    `json:"suspected_cause"`
	DetectedAt     time.Time `json:"detected_at"`
}

// StatusView is the daemon health summary.
type StatusView struct {
	Healthy     bool           `json:"healthy"`
	Reason      string         `json:"reason,omitempty"`
	CheckedAt   time.Time      `json:"checked_at"`
	Entities    map[string]int `json:"entities"`
	LivenessAge string         `json:"liveness_age,omitempty"`
}

// EventView is one SSE payload on the entity stream.
type EventView struct {
	Entity    string    `json:"entity,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
