package airplay

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"airwave/pkg/rtsp"
)

// Key loading errors.
var (
	ErrKeyBadPEM = errors.New("no PEM block in key file")
	ErrKeyType   = errors.New("not an RSA private key")
)

// LoadKey reads a PEM encoded RSA private key.
func LoadKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrKeyBadPEM
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrKeyType
	}
	return key, nil
}

// HardwareAddr returns the MAC address of the first non-loopback
// interface, or a fixed fallback address.
func HardwareAddr() net.HardwareAddr {
	fallback := net.HardwareAddr{0x00, 0x51, 0x52, 0x53, 0x54, 0x55}

	ifaces, err := net.Interfaces()
	if err != nil {
		return fallback
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		return iface.HardwareAddr
	}
	return fallback
}

// appleResponse answers the Apple-Challenge header. The response is
// the RSA signature of challenge, server IPv4 address and hardware
// address, zero padded to 32 bytes.
func (h *Handler) appleResponse(conn *rtsp.Conn) error {
	challenge := conn.Header("Apple-Challenge")
	if challenge == "" {
		return nil
	}

	decoded, err := decodeBase64(challenge)
	if err != nil {
		return fmt.Errorf("decode challenge: %w", err)
	}
	if len(decoded) < 16 {
		return fmt.Errorf("challenge too short: %d", len(decoded))
	}

	buf := make([]byte, 32)
	copy(buf, decoded[:16])
	copy(buf[16:], conn.LocalIP().To4())
	copy(buf[20:], h.hwAddr)

	// Raw PKCS#1 v1.5 signature, no hashing.
	signature, err := rsa.SignPKCS1v15(rand.Reader, h.key, 0, buf)
	if err != nil {
		return fmt.Errorf("sign challenge: %w", err)
	}

	response := base64.StdEncoding.EncodeToString(signature)
	response = strings.TrimRight(response, "=")

	return conn.AddHeader("Apple-Response", response)
}

// decodeBase64 accepts input with or without trailing padding.
func decodeBase64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
