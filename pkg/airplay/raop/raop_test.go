package raop

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"

	"github.com/pion/rtp/v2"
	"github.com/stretchr/testify/require"

	"airwave/pkg/airplay"
)

func testPacket(t *testing.T, payload []byte) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 4321,
			Timestamp:      88200,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	require.NoError(t, err)
	return buf
}

// encrypt mirrors the sender. Whole blocks are AES-CBC encrypted, the
// trailing partial block is sent in the clear.
func encrypt(t *testing.T, key, iv, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	out := make([]byte, len(plain))
	aesLen := len(plain) &^ 0xf
	cipher.NewCBCEncrypter(block, append([]byte(nil), iv...)).
		CryptBlocks(out[:aesLen], plain[:aesLen])
	copy(out[aesLen:], plain[aesLen:])
	return out
}

func TestDepayload(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")

	plain := make([]byte, 41)
	for i := range plain {
		plain[i] = byte(i)
	}

	t.Run("encrypted", func(t *testing.T) {
		d, err := NewDepayloader(key, iv)
		require.NoError(t, err)

		// Two packets must decrypt identically, the IV resets
		// each time.
		for i := 0; i < 2; i++ {
			frame, err := d.Depayload(testPacket(t, encrypt(t, key, iv, plain)))
			require.NoError(t, err)
			require.Equal(t, uint16(4321), frame.SequenceNumber)
			require.Equal(t, uint32(88200), frame.Timestamp)
			require.Equal(t, plain, frame.Payload)
		}
	})

	t.Run("shortTrailer", func(t *testing.T) {
		// Payloads under one block are passed through untouched.
		d, err := NewDepayloader(key, iv)
		require.NoError(t, err)

		frame, err := d.Depayload(testPacket(t, plain[:7]))
		require.NoError(t, err)
		require.Equal(t, plain[:7], frame.Payload)
	})

	t.Run("cleartext", func(t *testing.T) {
		d, err := NewDepayloader(nil, nil)
		require.NoError(t, err)

		frame, err := d.Depayload(testPacket(t, plain))
		require.NoError(t, err)
		require.Equal(t, plain, frame.Payload)
	})

	t.Run("badIV", func(t *testing.T) {
		_, err := NewDepayloader(key, iv[:3])
		require.ErrorIs(t, err, ErrBadIVLength)
	})

	t.Run("badKey", func(t *testing.T) {
		_, err := NewDepayloader(key[:5], iv)
		require.Error(t, err)
	})

	t.Run("emptyPayload", func(t *testing.T) {
		d, err := NewDepayloader(nil, nil)
		require.NoError(t, err)

		_, err = d.Depayload(testPacket(t, nil))
		require.ErrorIs(t, err, ErrNoPayload)
	})

	t.Run("badPacket", func(t *testing.T) {
		d, err := NewDepayloader(nil, nil)
		require.NoError(t, err)

		_, err = d.Depayload([]byte{0x80})
		require.Error(t, err)
	})
}

func TestParseFormat(t *testing.T) {
	t.Run("alac", func(t *testing.T) {
		info, err := ParseFormat(airplay.CodecALAC,
			"96 352 0 16 40 10 14 2 255 0 0 44100")
		require.NoError(t, err)
		require.Equal(t, 44100, info.SampleRate)
		require.Equal(t, 2, info.Channels)

		cookie := make([]byte, 24)
		binary.BigEndian.PutUint32(cookie[0:], 352) // Max samples per frame.
		cookie[4] = 0                               // Compatible version.
		cookie[5] = 16                              // Sample size.
		cookie[6] = 40                              // History mult.
		cookie[7] = 10                              // Initial history.
		cookie[8] = 14                              // Rice parameter limit.
		cookie[9] = 2                               // Channel count.
		binary.BigEndian.PutUint16(cookie[10:], 255)   // Max run.
		binary.BigEndian.PutUint32(cookie[12:], 0)     // Max coded frame size.
		binary.BigEndian.PutUint32(cookie[16:], 0)     // Average bit rate.
		binary.BigEndian.PutUint32(cookie[20:], 44100) // Sample rate.
		require.Equal(t, cookie, info.MagicCookie)
	})

	t.Run("alacBadFieldCount", func(t *testing.T) {
		_, err := ParseFormat(airplay.CodecALAC, "96 352 0 16")
		require.ErrorIs(t, err, ErrBadFormat)
	})

	t.Run("alacBadField", func(t *testing.T) {
		_, err := ParseFormat(airplay.CodecALAC,
			"96 352 0 16 40 10 14 x 255 0 0 44100")
		require.ErrorIs(t, err, ErrBadFormat)
	})

	t.Run("pcm", func(t *testing.T) {
		info, err := ParseFormat(airplay.CodecPCM, "96 L16/48000/6")
		require.NoError(t, err)
		require.Equal(t, 48000, info.SampleRate)
		require.Equal(t, 6, info.Channels)
		require.Nil(t, info.MagicCookie)
	})

	t.Run("pcmDefaults", func(t *testing.T) {
		info, err := ParseFormat(airplay.CodecPCM, "bogus")
		require.NoError(t, err)
		require.Equal(t, DefaultSampleRate, info.SampleRate)
		require.Equal(t, DefaultChannels, info.Channels)
	})

	t.Run("aacDefaults", func(t *testing.T) {
		info, err := ParseFormat(airplay.CodecAAC, "")
		require.NoError(t, err)
		require.Equal(t, DefaultSampleRate, info.SampleRate)
		require.Equal(t, DefaultChannels, info.Channels)
	})
}
