package scanning

// RASPStatus reports whether the runtime protection server is reachable.
type RASPStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Connection states reported in RASPStatus.
const (
	RASPConnected    = "connected"
	RASPError        = "error"
	RASPDisconnected = "disconnected"
)
