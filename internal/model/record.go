package model

import "time"

// Record is one decoded [timestamp, payload] entry of an ingested batch.
type Record struct {
	Tag     string         `json:"tag"`
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload"`
}
