package raop

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/icza/bitio"

	"airwave/pkg/airplay"
)

// Defaults used when the announced format omits a parameter.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
)

// ErrBadFormat means the announced format string could not be parsed.
var ErrBadFormat = errors.New("bad stream format")

// StreamInfo describes the announced audio stream.
type StreamInfo struct {
	SampleRate int
	Channels   int

	// MagicCookie is the ALAC decoder configuration, nil for other
	// codecs.
	MagicCookie []byte
}

// ParseFormat extracts the stream parameters from the format string
// carried in an announce.
func ParseFormat(codec airplay.Codec, format string) (*StreamInfo, error) {
	switch codec { //nolint:exhaustive
	case airplay.CodecALAC:
		return parseALAC(format)
	case airplay.CodecPCM:
		return parsePCM(format), nil
	}
	return &StreamInfo{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
	}, nil
}

// parseALAC parses a format like
//
//	"96 352 0 16 40 10 14 2 255 0 0 44100"
//
// and builds the decoder magic cookie from it.
func parseALAC(format string) (*StreamInfo, error) {
	fields := strings.Fields(format)
	if len(fields) != 12 {
		return nil, fmt.Errorf("%w: %q", ErrBadFormat, format)
	}

	values := make([]uint64, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %q", ErrBadFormat, i, field)
		}
		values[i] = value
	}

	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)
	w.TryWriteBits(values[1], 32)  // Max samples per frame.
	w.TryWriteBits(values[2], 8)   // Compatible version.
	w.TryWriteBits(values[3], 8)   // Sample size.
	w.TryWriteBits(values[4], 8)   // History mult.
	w.TryWriteBits(values[5], 8)   // Initial history.
	w.TryWriteBits(values[6], 8)   // Rice parameter limit.
	w.TryWriteBits(values[7], 8)   // Channel count.
	w.TryWriteBits(values[8], 16)  // Max run.
	w.TryWriteBits(values[9], 32)  // Max coded frame size.
	w.TryWriteBits(values[10], 32) // Average bit rate.
	w.TryWriteBits(values[11], 32) // Sample rate.
	if w.TryError != nil {
		return nil, w.TryError
	}
	w.Close() //nolint:errcheck

	return &StreamInfo{
		SampleRate:  int(values[11]),
		Channels:    int(values[7]),
		MagicCookie: buf.Bytes(),
	}, nil
}

// parsePCM parses a format like "96 L16/44100/2". Malformed input
// falls back to CD audio parameters.
func parsePCM(format string) *StreamInfo {
	info := &StreamInfo{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
	}

	i := strings.IndexByte(format, ' ')
	if i == -1 {
		return info
	}
	fields := strings.Split(format[i+1:], "/")
	if len(fields) != 3 {
		return info
	}

	if rate, err := strconv.Atoi(fields[1]); err == nil {
		info.SampleRate = rate
	}
	if channels, err := strconv.Atoi(fields[2]); err == nil {
		info.Channels = channels
	}
	return info
}
