package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*AudioOptions)(nil)

// AudioOptions configures transcoding and delivery of audio alerts.
type AudioOptions struct {
	FFmpegPath       string        `json:"ffmpeg-path" mapstructure:"ffmpeg-path"`
	SampleRate       int           `json:"sample-rate" mapstructure:"sample-rate"`
	Bitrate          string        `json:"bitrate" mapstructure:"bitrate"`
	TranscodeTimeout time.Duration `json:"transcode-timeout" mapstructure:"transcode-timeout"`
	MaxConcurrent    int64         `json:"max-concurrent" mapstructure:"max-concurrent"`
	MaxUploadBytes   int64         `json:"max-upload-bytes" mapstructure:"max-upload-bytes"`
	QoS              int           `json:"qos" mapstructure:"qos"`
}

func NewAudioOptions() *AudioOptions {
	return &AudioOptions{
		FFmpegPath:       "ffmpeg",
		SampleRate:       16000,
		Bitrate:          "32k",
		TranscodeTimeout: 30 * time.Second,
		MaxConcurrent:    2,
		MaxUploadBytes:   10 << 20,
		QoS:              1,
	}
}

func (o *AudioOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.FFmpegPath == "" {
		errs = append(errs, errors.New("--audio.ffmpeg-path must not be empty"))
	}
	switch o.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		errs = append(errs, fmt.Errorf("--audio.sample-rate %d is not an Opus rate", o.SampleRate))
	}
	if o.TranscodeTimeout <= 0 {
		errs = append(errs, errors.New("--audio.transcode-timeout must be positive"))
	}
	if o.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("--audio.max-concurrent must be positive"))
	}
	if o.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("--audio.max-upload-bytes must be positive"))
	}
	if o.QoS < 0 || o.QoS > 2 {
		errs = append(errs, fmt.Errorf("--audio.qos must be 0, 1 or 2, got %d", o.QoS))
	}
	return errs
}

func (o *AudioOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.FFmpegPath, "audio.ffmpeg-path", o.FFmpegPath, "Path to the ffmpeg binary used for transcoding.")
	fs.IntVar(&o.SampleRate, "audio.sample-rate", o.SampleRate, "Output sample rate in Hz.")
	fs.StringVar(&o.Bitrate, "audio.bitrate", o.Bitrate, "Target Opus bitrate.")
	fs.DurationVar(&o.TranscodeTimeout, "audio.transcode-timeout", o.TranscodeTimeout, "Upper bound for a single transcode.")
	fs.Int64Var(&o.MaxConcurrent, "audio.max-concurrent", o.MaxConcurrent, "Transcodes allowed to run at the same time.")
	fs.Int64Var(&o.MaxUploadBytes, "audio.max-upload-bytes", o.MaxUploadBytes, "Largest accepted audio upload.")
	fs.IntVar(&o.QoS, "audio.qos", o.QoS, "MQTT QoS for audio alert frames.")
}
