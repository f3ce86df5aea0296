// ABOUTME: Hub record framing for the JSON hub protocol
// ABOUTME: Encodes and splits record-separated invocation, completion and ping records
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSeparator terminates every JSON record on the wire
const RecordSeparator = 0x1e

// HubProtocol and HubProtocolVersion are negotiated in the handshake
const (
	HubProtocol        = "json"
	HubProtocolVersion = 1
)

// RecordType identifies a hub record
type RecordType int

const (
	RecordInvocation       RecordType = 1
	RecordStreamItem       RecordType = 2
	RecordCompletion       RecordType = 3
	RecordStreamInvocation RecordType = 4
	RecordCancelInvocation RecordType = 5
	RecordPing             RecordType = 6
	RecordClose            RecordType = 7
)

func (t RecordType) String() string {
	switch t {
	case RecordInvocation:
		return "invocation"
	case RecordStreamItem:
		return "stream-item"
	case RecordCompletion:
		return "completion"
	case RecordStreamInvocation:
		return "stream-invocation"
	case RecordCancelInvocation:
		return "cancel-invocation"
	case RecordPing:
		return "ping"
	case RecordClose:
		return "close"
	default:
		return fmt.Sprintf("record(%d)", int(t))
	}
}

// HandshakeRequest is the first record a client sends
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse answers the handshake; a non-empty Error rejects it
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Record is a single hub record
type Record struct {
	Type           RecordType        `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// NewInvocation builds an invocation record; an empty id means no completion is expected
func NewInvocation(id, target string, args ...any) (Record, error) {
	rec := Record{
		Type:         RecordInvocation,
		InvocationID: id,
		Target:       target,
	}
	for _, arg := range args {
		raw, ok := arg.(json.RawMessage)
		if !ok {
			data, err := json.Marshal(arg)
			if err != nil {
				return Record{}, fmt.Errorf("failed to marshal argument for %s: %w", target, err)
			}
			raw = data
		}
		rec.Arguments = append(rec.Arguments, raw)
	}
	return rec, nil
}

// NewCompletion builds a completion record for an invocation
func NewCompletion(id string, result any, errMsg string) (Record, error) {
	rec := Record{
		Type:         RecordCompletion,
		InvocationID: id,
		Error:        errMsg,
	}
	if result != nil && errMsg == "" {
		data, err := json.Marshal(result)
		if err != nil {
			return Record{}, fmt.Errorf("failed to marshal completion result: %w", err)
		}
		rec.Result = data
	}
	return rec, nil
}

// EncodeRecord marshals v and appends the record separator
func EncodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return append(data, RecordSeparator), nil
}

// SplitRecords splits a text frame into its records, dropping empty trailers
func SplitRecords(data []byte) [][]byte {
	var out [][]byte
	for _, part := range bytes.Split(data, []byte{RecordSeparator}) {
		if len(bytes.TrimSpace(part)) == 0 {
			continue
		}
		out = append(out, part)
	}
	return out
}

// DecodeRecords parses every record in a text frame
func DecodeRecords(data []byte) ([]Record, error) {
	parts := SplitRecords(data)
	records := make([]Record, 0, len(parts))
	for _, part := range parts {
		var rec Record
		if err := json.Unmarshal(part, &rec); err != nil {
			return records, fmt.Errorf("failed to parse record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// joinRecords reassembles split records into one frame
func joinRecords(parts [][]byte) []byte {
	return bytes.Join(parts, []byte{RecordSeparator})
}
