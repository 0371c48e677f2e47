// Package raop turns RAOP RTP packets back into raw audio frames.
package raop

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/pion/rtp/v2"
)

// Errors.
var (
	ErrBadIVLength = errors.New("iv must be one AES block")
	ErrNoPayload   = errors.New("packet has no payload")
)

// Frame is one depacketized audio frame.
type Frame struct {
	SequenceNumber uint16
	Timestamp      uint32
	Payload        []byte
}

// Depayloader extracts and decrypts audio frames from RTP packets.
// With a nil key the stream is treated as cleartext.
type Depayloader struct {
	block cipher.Block
	iv    []byte
}

// NewDepayloader returns a depayloader for one stream.
func NewDepayloader(key, iv []byte) (*Depayloader, error) {
	d := &Depayloader{}

	if key != nil {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes key: %w", err)
		}
		if len(iv) != aes.BlockSize {
			return nil, ErrBadIVLength
		}
		d.block = block
		d.iv = append([]byte(nil), iv...)
	}
	return d, nil
}

// Depayload parses one RTP packet and returns the decrypted frame.
func (d *Depayloader) Depayload(buf []byte) (*Frame, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("parse rtp: %w", err)
	}
	if len(pkt.Payload) == 0 {
		return nil, ErrNoPayload
	}

	payload := pkt.Payload
	if d.block != nil {
		payload = d.decrypt(payload)
	}

	return &Frame{
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		Payload:        payload,
	}, nil
}

// decrypt runs AES-128-CBC over the whole blocks of the payload. The
// trailing partial block is not encrypted by the sender and is copied
// through.
func (d *Depayloader) decrypt(payload []byte) []byte {
	out := make([]byte, len(payload))

	aesLen := len(payload) &^ 0xf
	if aesLen > 0 {
		// The IV resets on every packet.
		iv := append([]byte(nil), d.iv...)
		cipher.NewCBCDecrypter(d.block, iv).CryptBlocks(out[:aesLen], payload[:aesLen])
	}
	copy(out[aesLen:], payload[aesLen:])

	return out
}
