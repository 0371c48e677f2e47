package airplay

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"airwave/pkg/rtsp"
)

// setParameter dispatches a SET_PARAMETER body on its content type.
func (h *Handler) setParameter(conn *rtsp.Conn, sess *session, chunk []byte, final bool) {
	if sess.player == nil {
		return
	}

	switch {
	case sess.contentType == "text/parameters":
		h.textParameters(sess, chunk)
	case sess.contentType == "application/x-dmap-tagged":
		sess.player.SetMetadata(parseDmap(chunk))
	case strings.HasPrefix(sess.contentType, "image/"):
		h.coverChunk(conn, sess, chunk, final)
	}
}

// textParameters handles "volume: f" and "progress: a/b/c" bodies.
func (h *Handler) textParameters(sess *session, body []byte) {
	value := string(body)

	switch {
	case strings.HasPrefix(value, "volume: "):
		volume, err := strconv.ParseFloat(
			strings.TrimSpace(value[len("volume: "):]), 64)
		if err != nil {
			return
		}
		sess.player.SetVolume(volume)

	case strings.HasPrefix(value, "progress: "):
		fields := strings.Split(
			strings.TrimSpace(value[len("progress: "):]), "/")
		if len(fields) != 3 {
			return
		}
		start, err1 := strconv.ParseUint(fields[0], 10, 32)
		current, err2 := strconv.ParseUint(fields[1], 10, 32)
		end, err3 := strconv.ParseUint(fields[2], 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			return
		}
		sess.player.SetProgress(uint32(start), uint32(current), uint32(end))
	}
}

// coverChunk accumulates cover art until the final chunk.
func (h *Handler) coverChunk(conn *rtsp.Conn, sess *session, chunk []byte, final bool) {
	if sess.cover == nil {
		sess.cover = make([]byte, conn.ContentLength())
		sess.coverLen = 0
	}
	sess.coverLen += copy(sess.cover[sess.coverLen:], chunk)

	if final {
		sess.player.SetCover(sess.cover[:sess.coverLen], sess.contentType)
		sess.cover = nil
	}
}

// getParameter answers a "volume" query with the player volume.
func (h *Handler) getParameter(conn *rtsp.Conn, sess *session, body []byte) {
	if sess.player == nil || !strings.HasPrefix(string(body), "volume") {
		return
	}

	conn.AddHeader("Content-Type", "text/parameters") //nolint:errcheck

	packet := []byte(fmt.Sprintf("volume: %.6f\r\n", sess.player.Volume()))
	conn.SetPacket(packet, nil) //nolint:errcheck
}

// parseDmap extracts title, artist and album from a DMAP tag list.
func parseDmap(buf []byte) Metadata {
	// Skip the mlit container header.
	if len(buf) > 8 && string(buf[:4]) == "mlit" {
		buf = buf[8:]
	}

	var meta Metadata
	for len(buf) > 8 {
		tag := string(buf[:4])
		length := int(binary.BigEndian.Uint32(buf[4:8]))
		if length < 0 || 8+length > len(buf) {
			break
		}
		value := string(buf[8 : 8+length])

		switch tag {
		case "minm":
			meta.Title = value
		case "asar":
			meta.Artist = value
		case "asal":
			meta.Album = value
		}

		buf = buf[8+length:]
	}
	return meta
}
