// Package events provides structured event emission for diagnostics.
package events

import "time"

// EventType identifies the kind of event.
type EventType string

const (
	EventNodeRegistered   EventType = "node_registered"
	EventNodeDisconnected EventType = "node_disconnected"
	EventFrameDelivered   EventType = "frame_delivered"
	EventFrameDropped     EventType = "frame_dropped"
	EventError            EventType = "error"
)

// Envelope wraps every emitted event with type and timestamp.
type Envelope struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NodeRegisteredData is the payload for node_registered events.
type NodeRegisteredData struct {
	NodeID   int     `json:"node_id"`
	X        float64 `json:"x_km"`
	Y        float64 `json:"y_km"`
	SourceID string  `json:"connection_id"`
}

// NodeDisconnectedData is the payload for node_disconnected events.
type NodeDisconnectedData struct {
	NodeID   int    `json:"node_id"`
	SourceID string `json:"connection_id"`
}

// FrameDeliveredData is the payload for frame_delivered events.
type FrameDeliveredData struct {
	From     int     `json:"from"`
	To       int     `json:"to"`
	SF       int     `json:"sf"`
	RSSI     float64 `json:"rssi"`
	SNR      float64 `json:"snr"`
	DelayMs  float64 `json:"delay_ms"`
}

// FrameDroppedData is the payload for frame_dropped events.
type FrameDroppedData struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	SF     int    `json:"sf"`
	Reason string `json:"reason"`
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Message string `json:"message"`
}

// Emitter is the interface for emitting structured events.
type Emitter interface {
	Emit(eventType EventType, data interface{})
	Close() error
}
