package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

var opusTagsSignature = []byte("OpusTags")

// ValidateOggOpus checks that data is an Ogg stream whose first page is an
// OpusHead ID header, every page checksum is valid and at least one audio
// page follows the headers.
func ValidateOggOpus(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}

	reader, head, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("not an ogg opus stream: %w", err)
	}
	if head.Channels == 0 {
		return errors.New("opus header declares zero channels")
	}

	audioPages := 0
	for {
		payload, _, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("corrupt ogg page: %w", err)
		}
		if bytes.HasPrefix(payload, opusTagsSignature) {
			continue
		}
		audioPages++
	}

	if audioPages == 0 {
		return errors.New("ogg opus stream has no audio pages")
	}
	return nil
}
