package rest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Authentication types

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Workspace types

// WorkspaceInfo is one saved workspace owned by a user.
type WorkspaceInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt Timestamp `json:"createdAt"`
}

// Timestamp decodes the server's date-time fields. It accepts RFC 3339
// strings, zoneless ISO strings and the [year, month, day, hour, minute,
// second, nanos] array form. Zoneless values are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		ts.Time = time.Time{}
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var parts []int
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if len(parts) < 3 {
			return fmt.Errorf("timestamp array has %d fields", len(parts))
		}
		for len(parts) < 7 {
			parts = append(parts, 0)
		}
		ts.Time = time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], time.UTC)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		ts.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// Execution types

// ExecuteRequest is the request body for remote code execution. Files holds
// every workspace file (name -> content); MainFile names the entry point.
type ExecuteRequest struct {
	Language string            `json:"language"`
	Code     string            `json:"code"`
	Input    string            `json:"input"`
	MainFile string            `json:"mainFile,omitempty"`
	Files    map[string]string `json:"files,omitempty"`
}

// ErrorResponse represents a JSON API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
