// Package api defines the JSON documents served by the detector HTTP API and a
// client for them.
package api

import "time"

// Status describes a running detector.
type Status struct {
	Name      string    `json:"name"`
	RunID     string    `json:"runId"`
	State     string    `json:"state"`
	Source    string    `json:"source"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"startedAt,omitempty"`

	FramesIngested   uint64 `json:"framesIngested"`
	FramesProcessed  int    `json:"framesProcessed"`
	FramesOverflowed uint64 `json:"framesOverflowed"`
	FramesDropped    uint64 `json:"framesDropped"`

	Threshold float64  `json:"threshold"`
	LastScore *float64 `json:"lastScore,omitempty"`
	Anomalies int      `json:"anomalies"`

	SyncEvery     int  `json:"syncEvery"`
	LastSyncFrame int  `json:"lastSyncFrame"`
	Staleness     int  `json:"staleness"`
	SavePending   bool `json:"savePending"`
}

// SaveResponse answers POST /weights/save.
type SaveResponse struct {
	SavePending    bool `json:"savePending"`
	AlreadyPending bool `json:"alreadyPending"`
}
