package audio

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/devgate/internal/gateway/core/model"
)

func TestFrameRoundTrip(t *testing.T) {
	opus := bytes.Repeat([]byte{0x00, '{', '}', 0xff}, 300)
	params := model.AlertParams{
		Priority:         200,
		Volume:           75,
		PlayCount:        0,
		InterruptCurrent: true,
		SaveToFile:       true,
		Filename:         "evacuate.opus",
	}

	frame, headerLen, err := EncodeFrame(params, opus)
	require.NoError(t, err)
	assert.Equal(t, len(frame), headerLen+len(opus))
	assert.Equal(t, opus, frame[headerLen:])

	h, payload, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, len(opus), h.OpusDataSize)
	assert.Equal(t, params, h.Params())
	assert.Equal(t, opus, payload)
}

func TestFrameHeaderWireFormat(t *testing.T) {
	frame, headerLen, err := EncodeFrame(model.DefaultAlertParams(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t,
		`{"opus_data_size":3,"priority":5,"volume":40,"play_count":1,"interrupt_current":false,"save_to_file":false}`,
		string(frame[:headerLen]))
	assert.True(t, json.Valid(frame[:headerLen]))
}

func TestEncodeFrameErrors(t *testing.T) {
	_, _, err := EncodeFrame(model.DefaultAlertParams(), nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	p := model.DefaultAlertParams()
	p.Filename = strings.Repeat("x", MaxHeaderBytes)
	_, _, err = EncodeFrame(p, []byte{1})
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestDecodeFrameErrors(t *testing.T) {
	valid, _, err := EncodeFrame(model.DefaultAlertParams(), []byte("opus"))
	require.NoError(t, err)

	long := model.DefaultAlertParams()
	long.Filename = strings.Repeat("x", MaxHeaderBytes)
	oversize, _ := json.Marshal(Header{OpusDataSize: 1, Filename: long.Filename})
	oversize = append(oversize, 'x')

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrMalformedFrame},
		{"binary first", []byte{0x4f, 0x67, 0x67, 0x53}, ErrMalformedFrame},
		{"truncated payload", valid[:len(valid)-1], ErrMalformedFrame},
		{"extra payload", append(bytes.Clone(valid), 0x00), ErrMalformedFrame},
		{"zero size", []byte(`{"opus_data_size":0}`), ErrEmptyPayload},
		{"broken json", []byte(`{"opus_data_size":`), ErrMalformedFrame},
		{"oversize header", oversize, ErrHeaderTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeFrame(tt.frame)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.AlertParams)
		wantErr bool
	}{
		{"defaults", func(*model.AlertParams) {}, false},
		{"bounds", func(p *model.AlertParams) { p.Priority, p.Volume, p.PlayCount = 255, 100, 0 }, false},
		{"priority high", func(p *model.AlertParams) { p.Priority = 256 }, true},
		{"priority negative", func(p *model.AlertParams) { p.Priority = -1 }, true},
		{"volume high", func(p *model.AlertParams) { p.Volume = 101 }, true},
		{"play count negative", func(p *model.AlertParams) { p.PlayCount = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := model.DefaultAlertParams()
			tt.mutate(&p)
			err := ValidateParams(p)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOggOpus(t *testing.T) {
	assert.NoError(t, ValidateOggOpus(oggOpus(t, 3)))

	assert.ErrorIs(t, ValidateOggOpus(nil), ErrEmptyPayload)
	assert.Error(t, ValidateOggOpus([]byte("RIFF\x00\x00\x00\x00WAVEfmt ")))
	assert.Error(t, ValidateOggOpus(oggOpus(t, 0)), "headers without audio")

	corrupt := oggOpus(t, 3)
	corrupt[len(corrupt)-1] ^= 0xff
	assert.Error(t, ValidateOggOpus(corrupt), "checksum mismatch")

	truncated := oggOpus(t, 3)
	assert.Error(t, ValidateOggOpus(truncated[:len(truncated)-2]))
}
