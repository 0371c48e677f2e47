// Package playlist keeps the play queue and the current track.
package playlist

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/grafov/m3u8"

	"airwave/pkg/library"
)

// Errors.
var (
	ErrEntryNotExist  = errors.New("entry does not exist")
	ErrEmpty          = errors.New("playlist is empty")
	ErrEndOfPlaylist  = errors.New("end of playlist")
	ErrNotMediaList   = errors.New("not a media playlist")
	ErrNoCurrentEntry = errors.New("no current entry")
)

// Playlist is an ordered list of tracks with a play position.
type Playlist struct {
	mu      sync.Mutex
	entries []library.Track
	current int
}

// NewPlaylist returns an empty playlist.
func NewPlaylist() *Playlist {
	return &Playlist{current: -1}
}

// Add appends a track. The first added track becomes current.
func (p *Playlist) Add(track library.Track) library.Track {
	p.mu.Lock()
	defer p.mu.Unlock()

	if track.ID == "" {
		track.ID = uuid.NewString()
	}
	p.entries = append(p.entries, track)
	if p.current == -1 {
		p.current = 0
	}
	return track
}

// Remove deletes the entry with the given ID.
func (p *Playlist) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.index(id)
	if i == -1 {
		return ErrEntryNotExist
	}
	p.entries = append(p.entries[:i], p.entries[i+1:]...)

	switch {
	case len(p.entries) == 0:
		p.current = -1
	case i < p.current:
		p.current--
	case p.current >= len(p.entries):
		p.current = len(p.entries) - 1
	}
	return nil
}

// Clear empties the playlist.
func (p *Playlist) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = nil
	p.current = -1
}

// Entries returns a copy of the playlist in order.
func (p *Playlist) Entries() []library.Track {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]library.Track(nil), p.entries...)
}

// Current returns the current track.
func (p *Playlist) Current() (library.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == -1 {
		return library.Track{}, ErrNoCurrentEntry
	}
	return p.entries[p.current], nil
}

// SetCurrent jumps to the entry with the given ID.
func (p *Playlist) SetCurrent(id string) (library.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.index(id)
	if i == -1 {
		return library.Track{}, ErrEntryNotExist
	}
	p.current = i
	return p.entries[i], nil
}

// Next advances to the next track.
func (p *Playlist) Next() (library.Track, error) {
	return p.step(1)
}

// Previous steps back to the previous track.
func (p *Playlist) Previous() (library.Track, error) {
	return p.step(-1)
}

func (p *Playlist) step(offset int) (library.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return library.Track{}, ErrEmpty
	}
	i := p.current + offset
	if i < 0 || i >= len(p.entries) {
		return library.Track{}, ErrEndOfPlaylist
	}
	p.current = i
	return p.entries[i], nil
}

func (p *Playlist) index(id string) int {
	for i, entry := range p.entries {
		if entry.ID == id {
			return i
		}
	}
	return -1
}

// ImportM3U appends the entries of a media playlist and returns how
// many were added.
func (p *Playlist) ImportM3U(r io.Reader) (int, error) {
	pl, listType, err := m3u8.DecodeFrom(r, false)
	if err != nil {
		return 0, fmt.Errorf("decode playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return 0, ErrNotMediaList
	}

	count := 0
	for _, segment := range pl.(*m3u8.MediaPlaylist).Segments {
		if segment == nil {
			continue
		}

		track := library.Track{
			Path:     segment.URI,
			Duration: uint32(segment.Duration),
		}
		// EXTINF titles commonly read "Artist - Title".
		title := strings.TrimSpace(segment.Title)
		if i := strings.Index(title, " - "); i != -1 {
			track.Artist = title[:i]
			title = title[i+3:]
		}
		if title == "" {
			title = segment.URI
		}
		track.Title = title

		p.Add(track)
		count++
	}
	return count, nil
}

// ImportM3UFile loads a media playlist from disk.
func (p *Playlist) ImportM3UFile(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open playlist: %w", err)
	}
	defer file.Close()

	return p.ImportM3U(file)
}
