package http

import (
	"encoding/json"
	"time"

	"github.com/autopeer-io/devgate/internal/gateway/core"
	"github.com/autopeer-io/devgate/internal/gateway/core/model"
)

// executeRequest is the body of POST /devices/{id}/execute. Batch items carry
// deviceId as well.
type executeRequest struct {
	DeviceID string `json:"deviceId,omitempty"`
	Command  string `json:"command"`
	Force    bool   `json:"force,omitempty"`

	// Timeout is in milliseconds.
	Timeout int64 `json:"timeout,omitempty"`
}

func (r executeRequest) toModel(deviceID string) model.CommandRequest {
	if deviceID == "" {
		deviceID = r.DeviceID
	}
	return model.CommandRequest{
		DeviceID: deviceID,
		Command:  r.Command,
		Timeout:  time.Duration(r.Timeout) * time.Millisecond,
		Force:    r.Force,
	}
}

// batchRequest accepts either a bare array or {"commands": [...]}.
type batchRequest []executeRequest

func (b *batchRequest) UnmarshalJSON(data []byte) error {
	var items []executeRequest
	if err := json.Unmarshal(data, &items); err == nil {
		*b = items
		return nil
	}
	var wrapped struct {
		Commands []executeRequest `json:"commands"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*b = wrapped.Commands
	return nil
}

type commandResult struct {
	Success   bool      `json:"success"`
	DeviceID  string    `json:"deviceId"`
	Command   string    `json:"command"`
	Output    string    `json:"output,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// ExecutionTime is in milliseconds.
	ExecutionTime int64 `json:"executionTime"`
}

func newCommandResult(resp *model.CommandResponse) commandResult {
	res := commandResult{
		Success:       resp.Success,
		DeviceID:      resp.DeviceID,
		Command:       resp.Command,
		Output:        resp.Output,
		Truncated:     resp.Truncated,
		Timestamp:     resp.Timestamp,
		ExecutionTime: resp.ExecutionTime.Milliseconds(),
	}
	if resp.Err != nil {
		res.Error = resp.Err.Error()
		res.ErrorKind = string(core.KindOf(resp.Err))
	}
	return res
}

type deviceList struct {
	Devices []model.Device `json:"devices"`
	Count   int            `json:"count"`
	Online  int            `json:"online"`
}

type alertResult struct {
	Success bool `json:"success"`
	*model.DispatchResult
}

type errorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorKind string `json:"errorKind"`
}
