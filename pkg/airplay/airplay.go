// Package airplay implements an AirPlay v1 (RAOP) receiver on top of
// the RTSP server.
package airplay

import (
	"crypto/rsa"
	"fmt"
	"net"
	"strconv"
	"strings"

	"airwave/pkg/log"
	"airwave/pkg/rtsp"

	"github.com/google/uuid"
)

// Codec is the negotiated audio codec.
type Codec int

// Codecs orderd by rtpmap name.
const (
	CodecUnknown Codec = iota
	CodecPCM
	CodecALAC
	CodecAAC
)

// Transport is the negotiated RTP transport.
type Transport int

// Transports.
const (
	TransportUDP Transport = iota
	TransportTCP
)

// Stream holds the negotiated stream parameters of one client.
type Stream struct {
	Codec  Codec
	Format string // Raw fmtp attribute value.
	Key    []byte // AES-128 key, decrypted.
	IV     []byte

	Transport   Transport
	ClientIP    net.IP
	ControlPort int
	TimingPort  int
}

// Ports are the server side RTP ports of a stream.
type Ports struct {
	Server  int
	Control int
	Timing  int
}

// Metadata of the playing track, sent by the client over DMAP.
type Metadata struct {
	Title  string
	Artist string
	Album  string
}

// Player consumes one client's audio stream.
type Player interface {
	// Setup opens the receiver sockets and returns their ports.
	Setup(stream *Stream) (Ports, error)
	// Record starts playback at the given RTP sequence number.
	Record(seq uint16)
	// Flush drops buffered audio up to the given sequence number.
	Flush(seq uint16)
	Teardown()

	SetVolume(volume float64)
	Volume() float64
	SetProgress(start, current, end uint32)
	SetMetadata(meta Metadata)
	SetCover(data []byte, mime string)
}

// NewPlayerFunc creates a player for a new stream.
type NewPlayerFunc func() Player

// Handler implements rtsp.Handler for RAOP clients.
type Handler struct {
	name      string
	password  string // Empty disables authentication.
	key       *rsa.PrivateKey
	hwAddr    net.HardwareAddr
	newPlayer NewPlayerFunc
	logger    *log.Logger
}

// NewHandler returns a handler advertised under name.
func NewHandler(
	name string,
	password string,
	key *rsa.PrivateKey,
	hwAddr net.HardwareAddr,
	newPlayer NewPlayerFunc,
	logger *log.Logger,
) *Handler {
	return &Handler{
		name:      name,
		password:  password,
		key:       key,
		hwAddr:    hwAddr,
		newPlayer: newPlayer,
		logger:    logger,
	}
}

// Per connection state.
type session struct {
	authenticated bool
	id            string // Session header value.
	contentType   string
	stream        Stream
	player        Player

	// Cover art accumulator.
	cover    []byte
	coverLen int
}

func (h *Handler) session(conn *rtsp.Conn) *session {
	if sess, ok := conn.UserData().(*session); ok {
		return sess
	}
	sess := &session{id: uuid.NewString()}
	conn.SetUserData(sess)
	return sess
}

const publicMethods = "ANNOUNCE, SETUP, RECORD, PAUSE, FLUSH, TEARDOWN, " +
	"OPTIONS, GET_PARAMETER, SET_PARAMETER"

// OnRequest implements rtsp.Handler.
func (h *Handler) OnRequest(conn *rtsp.Conn, method rtsp.Method, url string) {
	sess := h.session(conn)

	authorized := true
	if h.password != "" && !sess.authenticated &&
		!conn.DigestAuthCheck("", h.password, h.name) {
		conn.DigestAuthChallenge(h.name, "", false) //nolint:errcheck
		authorized = false
	} else {
		sess.authenticated = true
		conn.InitResponse(rtsp.StatusOK, "OK") //nolint:errcheck
	}

	// The Apple-Challenge response is expected even on the
	// authentication reply.
	if err := h.appleResponse(conn); err != nil {
		h.logger.Warn().Src("airplay").Conn(conn.PeerIP().String()).
			Msgf("apple challenge: %v", err)
	}

	conn.AddHeader("Server", "Airwave/1.0")     //nolint:errcheck
	conn.AddHeader("CSeq", conn.Header("CSeq")) //nolint:errcheck

	if !authorized {
		return
	}

	switch method {
	case rtsp.MethodOptions:
		conn.AddHeader("Public", publicMethods) //nolint:errcheck

	case rtsp.MethodSetup:
		if err := h.setup(conn, sess); err != nil {
			h.logger.Warn().Src("airplay").Conn(conn.PeerIP().String()).
				Msgf("setup: %v", err)
		}

	case rtsp.MethodRecord:
		if sess.player != nil {
			seq, _ := rtpInfo(conn)
			sess.player.Record(seq)
		}

	case rtsp.MethodTeardown:
		h.teardown(sess)

	case rtsp.MethodSetParameter, rtsp.MethodGetParameter:
		sess.contentType = conn.Header("Content-Type")

	case rtsp.MethodUnknown:
		if conn.MethodName() == "FLUSH" && sess.player != nil {
			seq, _ := rtpInfo(conn)
			sess.player.Flush(seq)
		}
	}
}

// OnBody implements rtsp.Handler.
func (h *Handler) OnBody(conn *rtsp.Conn, chunk []byte, final bool) {
	sess := h.session(conn)
	if !sess.authenticated && h.password != "" {
		return
	}

	switch conn.Method() {
	case rtsp.MethodAnnounce:
		if err := h.announce(sess, chunk); err != nil {
			h.logger.Warn().Src("airplay").Conn(conn.PeerIP().String()).
				Msgf("announce: %v", err)
			conn.InitResponse(rtsp.StatusBadRequest, "Bad request") //nolint:errcheck
		}

	case rtsp.MethodSetParameter:
		h.setParameter(conn, sess, chunk, final)

	case rtsp.MethodGetParameter:
		if sess.contentType == "text/parameters" {
			h.getParameter(conn, sess, chunk)
		}
	}
}

// OnClose implements rtsp.Handler.
func (h *Handler) OnClose(conn *rtsp.Conn) {
	if sess, ok := conn.UserData().(*session); ok {
		h.teardown(sess)
	}
}

func (h *Handler) teardown(sess *session) {
	if sess.player != nil {
		sess.player.Teardown()
		sess.player = nil
	}
}

// setup negotiates the RTP transport and starts a player.
func (h *Handler) setup(conn *rtsp.Conn, sess *session) error {
	header := conn.Header("Transport")
	if header == "" {
		return fmt.Errorf("missing transport header")
	}

	if strings.Contains(header, "TCP") {
		sess.stream.Transport = TransportTCP
	} else {
		sess.stream.Transport = TransportUDP
	}
	sess.stream.ControlPort = transportValue(header, "control_port=")
	sess.stream.TimingPort = transportValue(header, "timing_port=")
	sess.stream.ClientIP = conn.PeerIP()

	if h.newPlayer == nil {
		return fmt.Errorf("no player")
	}
	if sess.player == nil {
		sess.player = h.newPlayer()
	}

	ports, err := sess.player.Setup(&sess.stream)
	if err != nil {
		conn.InitResponse(rtsp.StatusInternal, "Internal error") //nolint:errcheck
		return fmt.Errorf("player setup: %w", err)
	}

	conn.AddHeader("Audio-Jack-Status", "connected; type=analog") //nolint:errcheck

	var transport string
	if sess.stream.Transport == TransportTCP {
		transport = fmt.Sprintf(
			"RTP/AVP/TCP;unicast;interleaved=0-1;mode=record;server_port=%d;",
			ports.Server)
	} else {
		transport = fmt.Sprintf(
			"RTP/AVP/UDP;unicast;interleaved=0-1;mode=record;"+
				"control_port=%d;timing_port=%d;server_port=%d;",
			ports.Control, ports.Timing, ports.Server)
	}
	conn.AddHeader("Transport", transport) //nolint:errcheck
	conn.AddHeader("Session", sess.id)     //nolint:errcheck
	return nil
}

// transportValue extracts a numeric field from a Transport header.
func transportValue(header, name string) int {
	i := strings.Index(header, name)
	if i == -1 {
		return 0
	}
	v := header[i+len(name):]
	if j := strings.IndexAny(v, ";,"); j != -1 {
		v = v[:j]
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return port
}

// rtpInfo reads seq and rtptime from the RTP-Info header.
func rtpInfo(conn *rtsp.Conn) (uint16, uint32) {
	header := conn.Header("RTP-Info")

	var seq uint16
	var rtptime uint32
	for _, field := range strings.Split(header, ";") {
		field = strings.TrimSpace(field)
		switch {
		case strings.HasPrefix(field, "seq="):
			v, err := strconv.ParseUint(field[4:], 10, 16)
			if err == nil {
				seq = uint16(v)
			}
		case strings.HasPrefix(field, "rtptime="):
			v, err := strconv.ParseUint(field[8:], 10, 32)
			if err == nil {
				rtptime = uint32(v)
			}
		}
	}
	return seq, rtptime
}
