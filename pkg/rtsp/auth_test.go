package rtsp

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func basicAuthServer(t *testing.T, username, password, realm string) *Server {
	t.Helper()
	return startTestServer(t, &testHandler{
		onRequest: func(conn *Conn, _ Method, _ string) {
			if !conn.BasicAuthCheck(username, password) {
				conn.BasicAuthChallenge(realm) //nolint:errcheck
				return
			}
			conn.InitResponse(StatusOK, "OK") //nolint:errcheck
		},
	})
}

func sendWithAuth(t *testing.T, s *Server, authorization string) (string, map[string]string) {
	t.Helper()
	conn := dialTestServer(t, s)

	req := "OPTIONS rtsp://host/stream RTSP/1.0\r\nCSeq: 1\r\n"
	if authorization != "" {
		req += "Authorization: " + authorization + "\r\n"
	}
	req += "\r\n"

	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	status, header, _ := readResponse(t, bufio.NewReader(conn))
	return status, header
}

func TestBasicAuth(t *testing.T) {
	s := basicAuthServer(t, "user", "pass", "airwave")

	basic := func(credentials string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
	}

	t.Run("valid", func(t *testing.T) {
		status, _ := sendWithAuth(t, s, basic("user:pass"))
		require.Equal(t, "RTSP/1.0 200 OK", status)
	})

	t.Run("wrongPassword", func(t *testing.T) {
		status, header := sendWithAuth(t, s, basic("user:wrongpass"))
		require.Equal(t, "RTSP/1.0 401 Unauthorized", status)
		require.Equal(t, `Basic realm="airwave"`, header["WWW-Authenticate"])
	})

	t.Run("wrongUser", func(t *testing.T) {
		status, _ := sendWithAuth(t, s, basic("eve:pass"))
		require.Equal(t, "RTSP/1.0 401 Unauthorized", status)
	})

	t.Run("missingHeader", func(t *testing.T) {
		status, _ := sendWithAuth(t, s, "")
		require.Equal(t, "RTSP/1.0 401 Unauthorized", status)
	})

	t.Run("notBase64", func(t *testing.T) {
		status, _ := sendWithAuth(t, s, "Basic !!!")
		require.Equal(t, "RTSP/1.0 401 Unauthorized", status)
	})

	t.Run("noColon", func(t *testing.T) {
		status, _ := sendWithAuth(t, s, basic("userpass"))
		require.Equal(t, "RTSP/1.0 401 Unauthorized", status)
	})
}

func TestDigestSubValue(t *testing.T) {
	auth := `Digest username="user", realm="airwave", nonce="abc123", ` +
		`uri="rtsp://host/stream", response="deadbeef"`

	require.Equal(t, "user", digestSubValue(auth, "username"))
	require.Equal(t, "abc123", digestSubValue(auth, "nonce"))
	require.Equal(t, "deadbeef", digestSubValue(auth, "response"))
	require.Equal(t, "", digestSubValue(auth, "opaque"))
	require.Equal(t, "", digestSubValue(`Digest response=unquoted`, "response"))
}

func TestDigestAuth(t *testing.T) {
	const (
		username = "user"
		password = "pass"
		realm    = "airwave"
		method   = "SETUP"
		url      = "rtsp://host/stream"
	)

	s := startTestServer(t, &testHandler{
		onRequest: func(conn *Conn, _ Method, _ string) {
			if !conn.DigestAuthCheck(username, password, realm) {
				conn.DigestAuthChallenge(realm, "", false) //nolint:errcheck
				return
			}
			conn.InitResponse(StatusOK, "OK") //nolint:errcheck
		},
	})

	conn := dialTestServer(t, s)
	br := bufio.NewReader(conn)

	send := func(authorization string) (string, map[string]string) {
		req := method + " " + url + " RTSP/1.0\r\nCSeq: 1\r\n"
		if authorization != "" {
			req += "Authorization: " + authorization + "\r\n"
		}
		req += "\r\n"
		_, err := conn.Write([]byte(req))
		require.NoError(t, err)

		status, header, _ := readResponse(t, br)
		return status, header
	}

	// A connection that was never challenged always fails the check.
	status, header := send("")
	require.Equal(t, "RTSP/1.0 401 Unauthorized", status)

	challenge := header["WWW-Authenticate"]
	nonce := digestSubValue(challenge, "nonce")
	require.NotEmpty(t, nonce)

	// The nonce is reused for the lifetime of the connection.
	_, header = send("")
	require.Equal(t, nonce, digestSubValue(header["WWW-Authenticate"], "nonce"))

	// HA1/HA2/response chain against the issued nonce.
	ha1 := md5Hex(username + ":" + realm + ":" + password)
	ha2 := md5Hex(method + ":" + url)
	response := md5Hex(ha1 + ":" + nonce + ":" + ha2)

	authorization := fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		username, realm, nonce, url, response)

	status, _ = send(authorization)
	require.Equal(t, "RTSP/1.0 200 OK", status)

	t.Run("mutatedResponse", func(t *testing.T) {
		for i := 0; i < len(response); i++ {
			mutated := []byte(response)
			if mutated[i] == '0' {
				mutated[i] = '1'
			} else {
				mutated[i] = '0'
			}
			bad := fmt.Sprintf(
				`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
				username, realm, nonce, url, mutated)

			status, _ := send(bad)
			require.Equal(t, "RTSP/1.0 401 Unauthorized", status)
		}
	})

	t.Run("uppercaseChain", func(t *testing.T) {
		// Clients hashing over uppercase hex digests are accepted too.
		ha1Up := md5Hex(username + ":" + realm + ":" + password)
		ha2Up := md5Hex(method + ":" + url)
		responseUp := toUpperHex(md5Hex(toUpperHex(ha1Up) + ":" + nonce + ":" + toUpperHex(ha2Up)))

		authorization := fmt.Sprintf(
			`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
			username, realm, nonce, url, responseUp)

		status, _ := send(authorization)
		require.Equal(t, "RTSP/1.0 200 OK", status)
	})
}

func toUpperHex(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestDigestChallengeOptions(t *testing.T) {
	c := &Conn{out: make([]byte, 512)}

	require.NoError(t, c.DigestAuthChallenge("airwave", "opq", true))
	out := string(c.out[:c.outLen])
	require.Contains(t, out, `Digest realm="airwave", nonce="`+c.nonce+`"`)
	require.Contains(t, out, `opaque="opq"`)
	require.Contains(t, out, `stale="true"`)
	require.Len(t, c.nonce, 32) // MD5 hex string.
}
