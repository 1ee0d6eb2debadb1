package server

import "github.com/smazurov/videostream/pkg/vsl"

// Health models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Version string `json:"version" example:"0.1.0" doc:"Daemon version"`
}

type HealthResponse struct {
	Body HealthData
}

// Status models
type StatusData struct {
	SocketPath string           `json:"socket_path" example:"/tmp/camera.vsl" doc:"Signalling socket path"`
	LastSerial int64            `json:"last_serial" example:"42" doc:"Most recently published frame serial"`
	Slots      []vsl.SlotInfo   `json:"slots" doc:"Frame pool slots"`
	Clients    []vsl.ClientInfo `json:"clients" doc:"Connected subscribers"`
}

type StatusResponse struct {
	Body StatusData
}

// Frame pool models
type FramesData struct {
	Slots []vsl.SlotInfo `json:"slots" doc:"Frame pool slots"`
	Count int            `json:"count" example:"8" doc:"Number of slots in the pool"`
}

type FramesResponse struct {
	Body FramesData
}

// Log models
type LogEntry struct {
	Timestamp  string         `json:"timestamp" doc:"Entry time in RFC3339Nano"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"host" doc:"Originating module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

type LogsData struct {
	Entries []LogEntry `json:"entries" doc:"Recent log entries, oldest first"`
	Count   int        `json:"count" example:"128" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}
