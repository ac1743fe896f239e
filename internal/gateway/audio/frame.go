package audio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/autopeer-io/devgate/internal/gateway/core/model"
)

// MaxHeaderBytes bounds the JSON header of a frame.
const MaxHeaderBytes = 1024

// Header is the JSON object that precedes the Opus payload in a frame.
// Field order is part of the wire format.
type Header struct {
	OpusDataSize     int    `json:"opus_data_size"`
	Priority         int    `json:"priority"`
	Volume           int    `json:"volume"`
	PlayCount        int    `json:"play_count"`
	InterruptCurrent bool   `json:"interrupt_current"`
	SaveToFile       bool   `json:"save_to_file"`
	Filename         string `json:"filename,omitempty"`
}

var (
	ErrEmptyPayload   = errors.New("opus payload is empty")
	ErrHeaderTooLarge = fmt.Errorf("frame header exceeds %d bytes", MaxHeaderBytes)
	ErrMalformedFrame = errors.New("malformed frame")
)

// Params returns the playback parameters carried by the header.
func (h Header) Params() model.AlertParams {
	return model.AlertParams{
		Priority:         h.Priority,
		Volume:           h.Volume,
		PlayCount:        h.PlayCount,
		InterruptCurrent: h.InterruptCurrent,
		SaveToFile:       h.SaveToFile,
		Filename:         h.Filename,
	}
}

// EncodeFrame writes the header for params followed directly by opus.
// It returns the frame and the header length.
func EncodeFrame(params model.AlertParams, opus []byte) ([]byte, int, error) {
	if len(opus) == 0 {
		return nil, 0, ErrEmptyPayload
	}

	header, err := json.Marshal(Header{
		OpusDataSize:     len(opus),
		Priority:         params.Priority,
		Volume:           params.Volume,
		PlayCount:        params.PlayCount,
		InterruptCurrent: params.InterruptCurrent,
		SaveToFile:       params.SaveToFile,
		Filename:         params.Filename,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal frame header: %w", err)
	}
	if len(header) > MaxHeaderBytes {
		return nil, 0, ErrHeaderTooLarge
	}

	frame := make([]byte, 0, len(header)+len(opus))
	frame = append(frame, header...)
	frame = append(frame, opus...)
	return frame, len(header), nil
}

// DecodeFrame splits a frame into its header and payload. The header ends at
// the closing brace of the first JSON value; the rest must be exactly
// opus_data_size bytes. The payload aliases frame.
func DecodeFrame(frame []byte) (Header, []byte, error) {
	var h Header
	if len(frame) == 0 || frame[0] != '{' {
		return h, nil, fmt.Errorf("%w: frame must start with a JSON object", ErrMalformedFrame)
	}

	limit := min(len(frame), MaxHeaderBytes)
	dec := json.NewDecoder(bytes.NewReader(frame[:limit]))
	if err := dec.Decode(&h); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) && len(frame) > MaxHeaderBytes {
			return h, nil, ErrHeaderTooLarge
		}
		return h, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	offset := int(dec.InputOffset())
	payload := frame[offset:]
	if h.OpusDataSize <= 0 {
		return h, nil, ErrEmptyPayload
	}
	if len(payload) != h.OpusDataSize {
		return h, nil, fmt.Errorf("%w: opus_data_size is %d but %d bytes follow the header",
			ErrMalformedFrame, h.OpusDataSize, len(payload))
	}
	return h, payload, nil
}

// ValidateParams checks playback parameter ranges.
func ValidateParams(p model.AlertParams) error {
	switch {
	case p.Priority < 0 || p.Priority > model.MaxPriority:
		return fmt.Errorf("priority must be between 0 and %d, got %d", model.MaxPriority, p.Priority)
	case p.Volume < 0 || p.Volume > model.MaxVolume:
		return fmt.Errorf("volume must be between 0 and %d, got %d", model.MaxVolume, p.Volume)
	case p.PlayCount < 0:
		return fmt.Errorf("play count must not be negative, got %d", p.PlayCount)
	}
	return nil
}
