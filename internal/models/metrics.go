package models

import "time"

// RelayMetrics is an aggregated view of relay activity for status endpoints.
type RelayMetrics struct {
	TransfersCompleted        uint64    `json:"transfersCompleted"`
	TransfersFailed           uint64    `json:"transfersFailed"`
	TransfersCancelled        uint64    `json:"transfersCancelled"`
	BytesMoved                uint64    `json:"bytesMoved"`
	AverageTransferDurationMs float64   `json:"averageTransferDurationMs"`
	RequestsTotal             uint64    `json:"requestsTotal"`
	Goroutines                int       `json:"goroutines"`
	GeneratedAt               time.Time `json:"generatedAt"`
}
