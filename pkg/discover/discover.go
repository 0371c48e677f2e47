// Package discover announces the receiver on the local network over
// mDNS so that senders can find it.
package discover

import (
	"fmt"
	"sync"

	"github.com/grandcat/zeroconf"

	"airwave/pkg/log"
)

const raopService = "_raop._tcp"

// Config holds the announced service parameters.
type Config struct {
	Name     string
	Port     int
	HWAddr   []byte
	Password bool
}

// Service is a published RAOP mDNS entry.
type Service struct {
	logger *log.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// Register publishes the service.
func Register(config Config, logger *log.Logger) (*Service, error) {
	s := &Service{logger: logger}
	if err := s.Update(config); err != nil {
		return nil, err
	}
	return s, nil
}

// Update republishes the service with new parameters. Senders browse
// continuously so a name or password change shows up within seconds.
func (s *Service) Update(config Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}

	server, err := zeroconf.Register(
		instanceName(config.HWAddr, config.Name),
		raopService,
		"local.",
		config.Port,
		txtRecords(config.Password),
		nil,
	)
	if err != nil {
		return fmt.Errorf("register service: %w", err)
	}

	s.server = server

	s.logger.Info().
		Src("discover").
		Msgf("published %q on port %d", config.Name, config.Port)

	return nil
}

// Shutdown withdraws the service.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}
}

// instanceName formats the service instance the way senders expect,
// the device address followed by the display name.
func instanceName(hwAddr []byte, name string) string {
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x@%s",
		hwAddr[0], hwAddr[1], hwAddr[2], hwAddr[3], hwAddr[4], hwAddr[5],
		name)
}

// txtRecords lists the receiver capabilities. PCM and ALAC streams,
// 16-bit stereo at 44.1kHz, no encryption required on the wire.
func txtRecords(password bool) []string {
	pw := "false"
	if password {
		pw = "true"
	}
	return []string{
		"txtvers=1",
		"tp=TCP,UDP",
		"sm=false",
		"sv=false",
		"ek=1",
		"et=0,1",
		"cn=0,1",
		"ch=2",
		"ss=16",
		"sr=44100",
		"pw=" + pw,
		"vn=3",
		"md=0,1,2",
	}
}
