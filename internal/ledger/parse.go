package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Parsed is the tagged result of parsing one response frame: either
// ParsedOk or ParsedErr.
type Parsed interface {
	FrameID() uint64
	isParsed()
}

// ParsedOk carries the raw result object of a successful response.
type ParsedOk struct {
	ID      uint64
	Payload json.RawMessage
}

// ParsedErr carries the reason a frame could not be used.
type ParsedErr struct {
	ID     uint64
	Reason string
}

func (p ParsedOk) FrameID() uint64  { return p.ID }
func (p ParsedErr) FrameID() uint64 { return p.ID }
func (ParsedOk) isParsed()          {}
func (ParsedErr) isParsed()         {}

type frame struct {
	ID           *uint64         `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

type resultStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// Parse classifies a response frame. Frames without a result object, with an
// error field, or with an error status inside the result are ParsedErr.
func Parse(data []byte) Parsed {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return ParsedErr{Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	var id uint64
	if f.ID != nil {
		id = *f.ID
	}

	if f.Error != "" {
		return ParsedErr{ID: id, Reason: errorReason(f.Error, f.ErrorMessage)}
	}
	result := bytes.TrimSpace(f.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return ParsedErr{ID: id, Reason: "response has no result"}
	}
	if result[0] != '{' {
		return ParsedErr{ID: id, Reason: "result is not an object"}
	}

	var rs resultStatus
	if err := json.Unmarshal(result, &rs); err == nil && (rs.Error != "" || rs.Status == "error") {
		return ParsedErr{ID: id, Reason: errorReason(rs.Error, rs.ErrorMessage)}
	}
	return ParsedOk{ID: id, Payload: json.RawMessage(result)}
}

func errorReason(code, msg string) string {
	switch {
	case code == "":
		return "error status"
	case msg == "":
		return code
	default:
		return code + ": " + msg
	}
}
