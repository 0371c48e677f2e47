// Package library keeps the persistent media library.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const dbAPIversion = "1"

// Errors.
var (
	ErrTrackNotExist   = errors.New("track does not exist")
	ErrTrackPathEmpty  = errors.New("track path is empty")
	ErrTrackTitleEmpty = errors.New("track title is empty")
)

// Track is one entry in the library.
type Track struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration uint32 `json:"duration"`
	AddedAt  int64  `json:"addedAt"`
}

// Query filters and limits a track listing. Nil or zero fields match
// everything.
type Query struct {
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Search string `json:"search"`
	Limit  int    `json:"limit"`
}

// Library is a track store backed by an on-disk database.
type Library struct {
	db *bolt.DB
}

// NewLibrary opens or creates the library database.
func NewLibrary(path string) (*Library, error) {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(path, 0o600, dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w: %v", err, path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Library{db: db}, nil
}

// Close closes the database.
func (l *Library) Close() error {
	return l.db.Close()
}

// Add stores a track. A missing ID is generated, making Add an upsert
// for tracks that carry one.
func (l *Library) Add(track Track) (Track, error) {
	if track.Path == "" {
		return Track{}, ErrTrackPathEmpty
	}
	if track.Title == "" {
		return Track{}, ErrTrackTitleEmpty
	}
	if track.ID == "" {
		track.ID = uuid.NewString()
	}
	if track.AddedAt == 0 {
		track.AddedAt = time.Now().UnixMilli()
	}

	value, _ := json.Marshal(track)

	err := l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(dbAPIversion)).Put([]byte(track.ID), value)
	})
	if err != nil {
		return Track{}, err
	}
	return track, nil
}

// Get returns the track with the given ID.
func (l *Library) Get(id string) (Track, error) {
	var track Track
	err := l.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(dbAPIversion)).Get([]byte(id))
		if value == nil {
			return ErrTrackNotExist
		}
		return json.Unmarshal(value, &track)
	})
	if err != nil {
		return Track{}, err
	}
	return track, nil
}

// Delete removes the track with the given ID.
func (l *Library) Delete(id string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))
		if b.Get([]byte(id)) == nil {
			return ErrTrackNotExist
		}
		return b.Delete([]byte(id))
	})
}

// Tracks lists tracks matching the query, ordered by artist, album
// and title.
func (l *Library) Tracks(q Query) ([]Track, error) {
	var tracks []Track

	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(dbAPIversion)).ForEach(func(_, value []byte) error {
			var track Track
			if err := json.Unmarshal(value, &track); err != nil {
				return fmt.Errorf("unmarshal track: %w", err)
			}
			if matchTrack(track, q) {
				tracks = append(tracks, track)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		if a.Artist != b.Artist {
			return a.Artist < b.Artist
		}
		if a.Album != b.Album {
			return a.Album < b.Album
		}
		return a.Title < b.Title
	})

	if q.Limit != 0 && len(tracks) > q.Limit {
		tracks = tracks[:q.Limit]
	}
	return tracks, nil
}

// Artists lists the distinct artists in the library.
func (l *Library) Artists() ([]string, error) {
	tracks, err := l.Tracks(Query{})
	if err != nil {
		return nil, err
	}
	return distinct(tracks, func(t Track) string { return t.Artist }), nil
}

// Albums lists the distinct albums of one artist, or of the whole
// library when artist is empty.
func (l *Library) Albums(artist string) ([]string, error) {
	tracks, err := l.Tracks(Query{Artist: artist})
	if err != nil {
		return nil, err
	}
	return distinct(tracks, func(t Track) string { return t.Album }), nil
}

func matchTrack(track Track, q Query) bool {
	if q.Artist != "" && track.Artist != q.Artist {
		return false
	}
	if q.Album != "" && track.Album != q.Album {
		return false
	}
	if q.Search != "" {
		search := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(track.Title), search) &&
			!strings.Contains(strings.ToLower(track.Artist), search) &&
			!strings.Contains(strings.ToLower(track.Album), search) {
			return false
		}
	}
	return true
}

func distinct(tracks []Track, field func(Track) string) []string {
	seen := make(map[string]struct{})
	var values []string
	for _, track := range tracks {
		value := field(track)
		if value == "" {
			continue
		}
		if _, exist := seen[value]; exist {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	sort.Strings(values)
	return values
}
