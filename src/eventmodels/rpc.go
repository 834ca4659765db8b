package eventmodels

import (
	"encoding/json"
	"time"
)

// LatencyTimestamps are the phase checkpoints stamped onto a frame as it moves
// client -> server -> broker and back. Absent checkpoints are nil; only
// adjacent pairs that are both present produce a latency measurement.
type LatencyTimestamps struct {
	ClientProcessingStarted  *time.Time `json:"clientProcessingStarted,omitempty"`
	ServerProcessingStarted  *time.Time `json:"serverProcessingStarted,omitempty"`
	ServerProcessingFinished *time.Time `json:"serverProcessingFinished,omitempty"`
	ClientProcessingFinished *time.Time `json:"clientProcessingFinished,omitempty"`
}

// RpcRequest is the body of an outbound call. The session injects the
// accountId and requestId keys before framing.
type RpcRequest map[string]interface{}

// RpcResponse is the decoded inbound reply frame. A frame with a non-empty
// Error field is a failure and maps to a typed error; otherwise Payload holds
// the raw type-specific response body.
type RpcResponse struct {
	RequestID  string             `json:"requestId"`
	Error      string             `json:"error,omitempty"`
	Message    string             `json:"message,omitempty"`
	Details    []ValidationDetail `json:"details,omitempty"`
	Timestamps *LatencyTimestamps `json:"timestamps,omitempty"`
	Payload    json.RawMessage    `json:"-"`
}
