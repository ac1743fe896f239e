// Package audio encodes alert audio into the speaker frame format and
// publishes it to devices.
package audio

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/devgate/internal/gateway/core"
	"github.com/autopeer-io/devgate/internal/gateway/core/model"
	"github.com/autopeer-io/devgate/internal/pkg/metrics"
	"github.com/autopeer-io/devgate/pkg/log"
	"github.com/autopeer-io/devgate/pkg/mqtt"
	"github.com/autopeer-io/devgate/pkg/mqtt/topic"
)

const (
	opSendAlert      = "send audio alert"
	opSendPreEncoded = "send pre-encoded alert"
	modeTranscode    = "transcode"
	modePreEncoded   = "preencoded"
	frameContentType = "application/octet-stream"
)

// Config wires a Pipeline.
type Config struct {
	Client     mqtt.Client
	Topics     *topic.TopicBuilder
	Transcoder Transcoder

	// Archiver is optional.
	Archiver *Archiver

	QoS    int
	Clock  clock.PassiveClock
	Logger log.Logger
}

// Pipeline turns alert jobs into published frames. Delivery is fire and
// forget: success means the broker accepted the frame.
type Pipeline struct {
	cfg Config
	log log.Logger
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Client == nil {
		return nil, errors.New("audio: mqtt client is required")
	}
	if cfg.Transcoder == nil {
		return nil, errors.New("audio: transcoder is required")
	}
	if cfg.Topics == nil {
		cfg.Topics = topic.NewTopicBuilder(topic.DefaultRoot)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("audio")
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger}, nil
}

// SendAudioAlert transcodes job.Audio to Opus, frames it and publishes it.
func (p *Pipeline) SendAudioAlert(ctx context.Context, job model.AudioAlertJob) (*model.DispatchResult, error) {
	res, err := p.send(ctx, opSendAlert, job, func() ([]byte, error) {
		opus, err := p.cfg.Transcoder.Transcode(ctx, job.Audio, job.MIMEType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, core.E(core.KindTimeout, opSendAlert, job.DeviceID, ctx.Err())
			}
			return nil, core.E(core.KindEncode, opSendAlert, job.DeviceID, err)
		}
		if err := ValidateOggOpus(opus); err != nil {
			return nil, core.E(core.KindEncode, opSendAlert, job.DeviceID, fmt.Errorf("transcoder output: %w", err))
		}
		return opus, nil
	})
	p.observe(modeTranscode, err)
	return res, err
}

// SendPreEncodedAlert publishes job.Audio as is after checking it is a
// well-formed Ogg Opus stream.
func (p *Pipeline) SendPreEncodedAlert(ctx context.Context, job model.AudioAlertJob) (*model.DispatchResult, error) {
	res, err := p.send(ctx, opSendPreEncoded, job, func() ([]byte, error) {
		if err := ValidateOggOpus(job.Audio); err != nil {
			return nil, core.E(core.KindValidation, opSendPreEncoded, job.DeviceID, err)
		}
		return job.Audio, nil
	})
	p.observe(modePreEncoded, err)
	return res, err
}

func (p *Pipeline) send(ctx context.Context, op string, job model.AudioAlertJob, encode func() ([]byte, error)) (*model.DispatchResult, error) {
	target, err := p.target(op, job)
	if err != nil {
		return nil, err
	}
	if err := ValidateParams(job.Params); err != nil {
		return nil, core.E(core.KindValidation, op, job.DeviceID, err)
	}
	if len(job.Audio) == 0 {
		return nil, core.Errorf(core.KindValidation, op, job.DeviceID, "audio payload is empty")
	}

	opus, err := encode()
	if err != nil {
		return nil, err
	}

	frame, headerLen, err := EncodeFrame(job.Params, opus)
	if err != nil {
		kind := core.KindEncode
		if errors.Is(err, ErrHeaderTooLarge) {
			kind = core.KindValidation
		}
		return nil, core.E(kind, op, job.DeviceID, err)
	}

	logger := p.log.WithValues("topic", target, "device", job.DeviceID)
	if err := p.cfg.Client.Publish(ctx, target, p.cfg.QoS, false, frame,
		mqtt.WithContentType(frameContentType)); err != nil {
		logger.Warn("Audio alert publish failed", "error", err)
		return nil, core.E(core.KindTransport, op, job.DeviceID, err)
	}

	res := &model.DispatchResult{
		DeviceID:    job.DeviceID,
		Topic:       target,
		FrameBytes:  len(frame),
		HeaderBytes: headerLen,
		OpusBytes:   len(opus),
		PublishedAt: p.cfg.Clock.Now(),
	}
	logger.Info("Audio alert published", "frameBytes", res.FrameBytes, "opusBytes", res.OpusBytes,
		"priority", job.Params.Priority)

	if p.cfg.Archiver != nil {
		key, err := p.cfg.Archiver.Store(ctx, job.DeviceID, opus, res.PublishedAt)
		if err != nil {
			logger.Error(err, "Failed to archive audio alert")
		} else {
			res.ArchiveKey = key
			if res.ArchiveURL, err = p.cfg.Archiver.URL(ctx, key); err != nil {
				logger.Warn("Failed to presign archived alert", "key", key, "error", err)
			}
		}
	}
	return res, nil
}

func (p *Pipeline) target(op string, job model.AudioAlertJob) (string, error) {
	if job.Broadcast {
		if job.DeviceID != "" {
			return "", core.Errorf(core.KindValidation, op, job.DeviceID, "broadcast alerts must not name a device")
		}
		return p.cfg.Topics.AudioBroadcast(), nil
	}
	if err := topic.ValidateSegment(job.DeviceID); err != nil {
		return "", core.E(core.KindValidation, op, job.DeviceID, fmt.Errorf("device id: %w", err))
	}
	return p.cfg.Topics.Audio(job.DeviceID), nil
}

func (p *Pipeline) observe(mode string, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(core.KindOf(err))
	}
	metrics.AudioAlertsTotal.WithLabelValues(mode, outcome).Inc()
}
