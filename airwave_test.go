package airwave

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pion/rtp/v2"
	"github.com/stretchr/testify/require"

	"airwave/pkg/airplay"
	"airwave/pkg/jsonrpc"
	"airwave/pkg/log"
)

func writeTestKey(t *testing.T, dir string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	path := filepath.Join(dir, "key.pem")
	data := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestNewApp(t *testing.T) {
	homeDir := t.TempDir()
	configDir := filepath.Join(homeDir, "configs")
	require.NoError(t, os.Mkdir(configDir, 0o700))

	keyFile := writeTestKey(t, configDir)

	envPath := filepath.Join(configDir, "env.yaml")
	envYAML := `
name: Test Speaker
keyFile: ` + keyFile + `
`
	require.NoError(t, os.WriteFile(envPath, []byte(envYAML), 0o600))

	app, err := newApp(envPath)
	require.NoError(t, err)
	defer app.stop()

	require.Equal(t, "Test Speaker", app.env.Name)
	require.NotNil(t, app.rtspServer)
	require.NotNil(t, app.webServer)
}

func TestNewAppNoKey(t *testing.T) {
	homeDir := t.TempDir()
	configDir := filepath.Join(homeDir, "configs")
	require.NoError(t, os.Mkdir(configDir, 0o700))

	envPath := filepath.Join(configDir, "env.yaml")
	require.NoError(t, os.WriteFile(envPath, []byte("port: 8080\n"), 0o600))

	// Without a key the app serves the web interface only.
	app, err := newApp(envPath)
	require.NoError(t, err)
	defer app.stop()

	require.Nil(t, app.rtspServer)
	require.NotNil(t, app.webServer)
}

func TestNewAppMissingEnv(t *testing.T) {
	_, err := newApp(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestPlayer(t *testing.T) {
	state := newPlayerState()
	p := newPlayer(state, log.NewMockLogger())

	ports, err := p.Setup(&airplay.Stream{
		Codec:  airplay.CodecALAC,
		Format: "96 352 0 16 40 10 14 2 255 0 0 44100",
	})
	require.NoError(t, err)
	require.NotZero(t, ports.Server)
	require.NotZero(t, ports.Control)
	require.NotZero(t, ports.Timing)

	status := state.snapshot()
	require.Equal(t, "ready", status.State)
	require.Equal(t, 44100, status.SampleRate)
	require.Equal(t, 2, status.Channels)

	p.Record(100)
	require.Equal(t, "playing", state.snapshot().State)

	t.Run("receive", func(t *testing.T) {
		pkt := rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: 100},
			Payload: []byte("audio"),
		}
		buf, err := pkt.Marshal()
		require.NoError(t, err)

		conn, err := net.Dial("udp4",
			net.JoinHostPort("127.0.0.1", strconv.Itoa(ports.Server)))
		require.NoError(t, err)
		defer conn.Close()

		// UDP is lossy even on loopback, resend until counted.
		deadline := time.Now().Add(5 * time.Second)
		for state.snapshot().Frames == 0 {
			require.True(t, time.Now().Before(deadline))
			_, err = conn.Write(buf)
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
		}
	})

	t.Run("metadata", func(t *testing.T) {
		p.SetMetadata(airplay.Metadata{Title: "Song", Artist: "Band"})
		p.SetVolume(-12.5)
		p.SetProgress(1000, 89200, 4411000)

		status := state.snapshot()
		require.Equal(t, "Song", status.Title)
		require.Equal(t, "Band", status.Artist)
		require.Equal(t, -12.5, status.Volume)
		require.Equal(t, uint32(2), status.Position)
		require.Equal(t, uint32(100), status.Duration)
	})

	p.Teardown()
	status = state.snapshot()
	require.Equal(t, "stopped", status.State)
	require.Equal(t, -12.5, status.Volume)

	// Second teardown is a no-op.
	p.Teardown()
}

func TestPlayerCommands(t *testing.T) {
	state := newPlayerState()

	registry := jsonrpc.NewRegistry()
	state.registerCommands(registry)

	data := registry.Process([]byte(`{
		"jsonrpc": "2.0",
		"method": "player.set_volume",
		"params": {"volume": -10},
		"id": 1
	}`))
	require.NotNil(t, data)
	require.Equal(t, float64(-10), state.snapshot().Volume)

	data = registry.Process([]byte(
		`{"jsonrpc": "2.0", "method": "player.status", "id": 2}`))

	var res struct {
		Result PlayerStatus `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &res))
	require.Equal(t, "stopped", res.Result.State)
	require.Equal(t, float64(-10), res.Result.Volume)
}
