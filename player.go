// Copyright 2020-2022 The Airwave Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package airwave

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"airwave/pkg/airplay"
	"airwave/pkg/airplay/raop"
	"airwave/pkg/jsonrpc"
	"airwave/pkg/log"
)

// PlayerStatus is the playback state exposed over the control
// protocol.
type PlayerStatus struct {
	State      string  `json:"state"` // "stopped", "ready" or "playing".
	Volume     float64 `json:"volume"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album"`
	Position   uint32  `json:"position"` // Seconds.
	Duration   uint32  `json:"duration"` // Seconds.
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
	Frames     uint64  `json:"frames"` // Received audio frames.
}

// playerState is shared between stream players and the control
// protocol. A new player is created per AirPlay session but status
// queries see one receiver.
type playerState struct {
	mu     sync.Mutex
	status PlayerStatus
}

func newPlayerState() *playerState {
	return &playerState{status: PlayerStatus{State: "stopped", Volume: 0}}
}

func (s *playerState) snapshot() PlayerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *playerState) set(fn func(*PlayerStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

func (s *playerState) registerCommands(registry *jsonrpc.Registry) {
	registry.Register("player.status",
		func(json.RawMessage) (interface{}, *jsonrpc.Error) {
			return s.snapshot(), nil
		})
	registry.Register("player.set_volume",
		func(params json.RawMessage) (interface{}, *jsonrpc.Error) {
			var p struct {
				Volume float64 `json:"volume"`
			}
			if err := jsonrpc.ParseParams(params, &p); err != nil {
				return nil, err
			}
			s.set(func(status *PlayerStatus) { status.Volume = p.Volume })
			return true, nil
		})
}

// player receives one AirPlay audio stream.
type player struct {
	state  *playerState
	logger *log.Logger

	mu     sync.Mutex
	depay  *raop.Depayloader
	audio  *net.UDPConn
	others []*net.UDPConn
	done   chan struct{}
}

func newPlayer(state *playerState, logger *log.Logger) airplay.Player {
	return &player{state: state, logger: logger}
}

// Setup opens the receiver sockets and starts draining the stream.
func (p *player) Setup(stream *airplay.Stream) (airplay.Ports, error) {
	depay, err := raop.NewDepayloader(stream.Key, stream.IV)
	if err != nil {
		return airplay.Ports{}, fmt.Errorf("create depayloader: %w", err)
	}
	info, err := raop.ParseFormat(stream.Codec, stream.Format)
	if err != nil {
		return airplay.Ports{}, fmt.Errorf("parse format: %w", err)
	}

	audio, err := listenUDP()
	if err != nil {
		return airplay.Ports{}, err
	}
	control, err := listenUDP()
	if err != nil {
		audio.Close()
		return airplay.Ports{}, err
	}
	timing, err := listenUDP()
	if err != nil {
		audio.Close()
		control.Close()
		return airplay.Ports{}, err
	}

	p.mu.Lock()
	p.depay = depay
	p.audio = audio
	p.others = []*net.UDPConn{control, timing}
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.state.set(func(status *PlayerStatus) {
		status.State = "ready"
		status.SampleRate = info.SampleRate
		status.Channels = info.Channels
		status.Frames = 0
	})

	go p.readLoop(audio, depay)

	return airplay.Ports{
		Server:  udpPort(audio),
		Control: udpPort(control),
		Timing:  udpPort(timing),
	}, nil
}

// readLoop drains and decrypts audio packets until the socket closes.
func (p *player) readLoop(audio *net.UDPConn, depay *raop.Depayloader) {
	buf := make([]byte, 2048)
	for {
		n, _, err := audio.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if _, err := depay.Depayload(buf[:n]); err != nil {
			p.logger.Debug().Src("player").
				Msgf("dropping packet: %v", err)
			continue
		}
		p.state.set(func(status *PlayerStatus) { status.Frames++ })
	}
}

func (p *player) Record(seq uint16) {
	p.state.set(func(status *PlayerStatus) { status.State = "playing" })
	p.logger.Info().Src("player").Msgf("stream started at seq %d", seq)
}

func (p *player) Flush(seq uint16) {
	p.logger.Debug().Src("player").Msgf("flush to seq %d", seq)
}

func (p *player) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done == nil {
		return
	}
	close(p.done)
	p.done = nil

	p.audio.Close()
	for _, conn := range p.others {
		conn.Close()
	}

	p.state.set(func(status *PlayerStatus) {
		*status = PlayerStatus{State: "stopped", Volume: status.Volume}
	})
	p.logger.Info().Src("player").Msg("stream stopped")
}

func (p *player) SetVolume(volume float64) {
	p.state.set(func(status *PlayerStatus) { status.Volume = volume })
}

func (p *player) Volume() float64 {
	return p.state.snapshot().Volume
}

func (p *player) SetProgress(start, current, end uint32) {
	p.state.set(func(status *PlayerStatus) {
		rate := uint32(status.SampleRate)
		if rate == 0 {
			rate = raop.DefaultSampleRate
		}
		status.Position = (current - start) / rate
		status.Duration = (end - start) / rate
	})
}

func (p *player) SetMetadata(meta airplay.Metadata) {
	p.state.set(func(status *PlayerStatus) {
		status.Title = meta.Title
		status.Artist = meta.Artist
		status.Album = meta.Album
	})
}

func (p *player) SetCover([]byte, string) {}

func listenUDP() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return conn, nil
}

func udpPort(conn *net.UDPConn) int {
	return conn.LocalAddr().(*net.UDPAddr).Port
}
