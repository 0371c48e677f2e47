package playlist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"airwave/pkg/jsonrpc"
	"airwave/pkg/library"
)

func addTestEntries(t *testing.T, p *Playlist) []library.Track {
	t.Helper()
	tracks := make([]library.Track, 0, 3)
	for _, title := range []string{"One", "Two", "Three"} {
		tracks = append(tracks, p.Add(library.Track{
			Path:  "/music/" + title + ".flac",
			Title: title,
		}))
	}
	return tracks
}

func TestPlaylist(t *testing.T) {
	t.Run("addCurrent", func(t *testing.T) {
		p := NewPlaylist()

		_, err := p.Current()
		require.ErrorIs(t, err, ErrNoCurrentEntry)

		tracks := addTestEntries(t, p)
		require.NotEmpty(t, tracks[0].ID)

		current, err := p.Current()
		require.NoError(t, err)
		require.Equal(t, "One", current.Title)
	})

	t.Run("nextPrevious", func(t *testing.T) {
		p := NewPlaylist()
		addTestEntries(t, p)

		track, err := p.Next()
		require.NoError(t, err)
		require.Equal(t, "Two", track.Title)

		_, err = p.Next()
		require.NoError(t, err)
		_, err = p.Next()
		require.ErrorIs(t, err, ErrEndOfPlaylist)

		track, err = p.Previous()
		require.NoError(t, err)
		require.Equal(t, "Two", track.Title)
	})

	t.Run("setCurrent", func(t *testing.T) {
		p := NewPlaylist()
		tracks := addTestEntries(t, p)

		track, err := p.SetCurrent(tracks[2].ID)
		require.NoError(t, err)
		require.Equal(t, "Three", track.Title)

		_, err = p.SetCurrent("nope")
		require.ErrorIs(t, err, ErrEntryNotExist)
	})

	t.Run("remove", func(t *testing.T) {
		p := NewPlaylist()
		tracks := addTestEntries(t, p)

		_, err := p.SetCurrent(tracks[1].ID)
		require.NoError(t, err)

		// Removing an entry before the current one keeps it.
		require.NoError(t, p.Remove(tracks[0].ID))
		current, err := p.Current()
		require.NoError(t, err)
		require.Equal(t, "Two", current.Title)

		// Removing the current entry moves to the next one.
		require.NoError(t, p.Remove(tracks[1].ID))
		current, err = p.Current()
		require.NoError(t, err)
		require.Equal(t, "Three", current.Title)

		require.NoError(t, p.Remove(tracks[2].ID))
		_, err = p.Current()
		require.ErrorIs(t, err, ErrNoCurrentEntry)

		require.ErrorIs(t, p.Remove(tracks[2].ID), ErrEntryNotExist)
	})

	t.Run("clear", func(t *testing.T) {
		p := NewPlaylist()
		addTestEntries(t, p)

		p.Clear()
		require.Empty(t, p.Entries())
		_, err := p.Current()
		require.ErrorIs(t, err, ErrNoCurrentEntry)
	})

	t.Run("emptyNext", func(t *testing.T) {
		p := NewPlaylist()
		_, err := p.Next()
		require.ErrorIs(t, err, ErrEmpty)
	})
}

const testM3U = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:300
#EXTINF:185, Alpha - One
/music/one.flac
#EXTINF:212, Beta - Two
/music/two.flac
#EXTINF:97,
/music/three.flac
#EXT-X-ENDLIST
`

func TestImportM3U(t *testing.T) {
	t.Run("media", func(t *testing.T) {
		p := NewPlaylist()

		count, err := p.ImportM3U(strings.NewReader(testM3U))
		require.NoError(t, err)
		require.Equal(t, 3, count)

		entries := p.Entries()
		require.Len(t, entries, 3)

		require.Equal(t, "/music/one.flac", entries[0].Path)
		require.Equal(t, "Alpha", entries[0].Artist)
		require.Equal(t, "One", entries[0].Title)
		require.Equal(t, uint32(185), entries[0].Duration)

		require.Equal(t, "Beta", entries[1].Artist)

		// Entries without a title fall back to the path.
		require.Equal(t, "/music/three.flac", entries[2].Title)
		require.Empty(t, entries[2].Artist)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "list.m3u8")
		require.NoError(t, os.WriteFile(path, []byte(testM3U), 0o600))

		p := NewPlaylist()
		count, err := p.ImportM3UFile(path)
		require.NoError(t, err)
		require.Equal(t, 3, count)
	})

	t.Run("missingFile", func(t *testing.T) {
		p := NewPlaylist()
		_, err := p.ImportM3UFile(filepath.Join(t.TempDir(), "nope.m3u8"))
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		p := NewPlaylist()
		_, err := p.ImportM3U(strings.NewReader("not a playlist"))
		require.Error(t, err)
	})
}

func TestCommands(t *testing.T) {
	p := NewPlaylist()

	registry := jsonrpc.NewRegistry()
	p.RegisterCommands(registry)

	process := func(t *testing.T, req string) map[string]interface{} {
		t.Helper()
		data := registry.Process([]byte(req))
		require.NotNil(t, data)

		var res map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &res))
		return res
	}

	t.Run("currentEmpty", func(t *testing.T) {
		res := process(t, `{"jsonrpc": "2.0", "method": "playlist.current", "id": 1}`)
		require.Nil(t, res["error"])
		require.Equal(t, false, res["result"])
	})

	t.Run("addList", func(t *testing.T) {
		res := process(t, `{
			"jsonrpc": "2.0",
			"method": "playlist.add",
			"params": {"path": "/music/x.flac", "title": "X"},
			"id": 2
		}`)
		require.Nil(t, res["error"])

		res = process(t, `{"jsonrpc": "2.0", "method": "playlist.list", "id": 3}`)
		require.Len(t, res["result"], 1)
	})

	t.Run("addMissingPath", func(t *testing.T) {
		res := process(t, `{
			"jsonrpc": "2.0",
			"method": "playlist.add",
			"params": {"title": "X"},
			"id": 4
		}`)
		require.NotNil(t, res["error"])
	})

	t.Run("nextAtEnd", func(t *testing.T) {
		res := process(t, `{"jsonrpc": "2.0", "method": "playlist.next", "id": 5}`)
		require.NotNil(t, res["error"])
	})

	t.Run("clear", func(t *testing.T) {
		res := process(t, `{"jsonrpc": "2.0", "method": "playlist.clear", "id": 6}`)
		require.Equal(t, true, res["result"])
	})
}
