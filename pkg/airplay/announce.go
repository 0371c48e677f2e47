package airplay

import (
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// Announce errors.
var (
	ErrAnnounceNoAudio  = errors.New("no audio media in announce")
	ErrAnnounceNoKey    = errors.New("no stream key in announce")
	ErrAnnounceCodec    = errors.New("unsupported codec")
	ErrAnnounceNoFormat = errors.New("no format in announce")
)

// announce parses the SDP body of an ANNOUNCE request and fills the
// session stream parameters.
func (h *Handler) announce(sess *session, body []byte) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return fmt.Errorf("parse sdp: %w", err)
	}

	var media *sdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			media = m
			break
		}
	}
	if media == nil {
		return ErrAnnounceNoAudio
	}

	var rtpmap string
	stream := &sess.stream
	for _, attr := range media.Attributes {
		switch attr.Key {
		case "rtpmap":
			rtpmap = attr.Value
			codec, err := codecFromRtpmap(attr.Value)
			if err != nil {
				return err
			}
			stream.Codec = codec

		case "fmtp":
			stream.Format = attr.Value

		case "rsaaeskey":
			encrypted, err := decodeBase64(attr.Value)
			if err != nil {
				return fmt.Errorf("decode aes key: %w", err)
			}
			key, err := rsa.DecryptOAEP(sha1.New(), nil, h.key, encrypted, nil)
			if err != nil {
				return fmt.Errorf("decrypt aes key: %w", err)
			}
			stream.Key = key

		case "aesiv":
			iv, err := decodeBase64(attr.Value)
			if err != nil {
				return fmt.Errorf("decode aes iv: %w", err)
			}
			stream.IV = iv
		}
	}

	// PCM streams carry no fmtp, the rtpmap value acts as format.
	if stream.Codec == CodecPCM && stream.Format == "" {
		stream.Format = rtpmap
	}

	if stream.Format == "" {
		return ErrAnnounceNoFormat
	}
	if stream.Key == nil {
		return ErrAnnounceNoKey
	}
	return nil
}

// codecFromRtpmap maps an rtpmap value like "96 AppleLossless" to a
// codec.
func codecFromRtpmap(value string) (Codec, error) {
	i := strings.IndexByte(value, ' ')
	if i == -1 {
		return CodecUnknown, fmt.Errorf("%w: %q", ErrAnnounceCodec, value)
	}
	name := value[i+1:]

	switch {
	case strings.HasPrefix(name, "L16"):
		return CodecPCM, nil
	case strings.HasPrefix(name, "AppleLossless"):
		return CodecALAC, nil
	case strings.HasPrefix(name, "mpeg4-generic"):
		return CodecAAC, nil
	}
	return CodecUnknown, fmt.Errorf("%w: %q", ErrAnnounceCodec, name)
}
