package model

import "time"

// CommandRequest asks a device to run a console command.
type CommandRequest struct {
	DeviceID string
	Command  string

	// Timeout overrides the default reply timeout. Zero means default.
	Timeout time.Duration

	// Force skips the offline short-circuit. The command is published even
	// when the device has not been heard from recently.
	Force bool
}

// CommandResponse is the outcome of one command.
type CommandResponse struct {
	DeviceID string
	Command  string
	Success  bool

	// Output is the device's reply text, truncated to the configured maximum.
	Output    string
	Truncated bool

	Timestamp     time.Time
	ExecutionTime time.Duration

	// Err is set when Success is false.
	Err error
}
