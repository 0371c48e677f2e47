package playlist

import (
	"encoding/json"
	"errors"

	"airwave/pkg/jsonrpc"
	"airwave/pkg/library"
)

// RegisterCommands exposes the playlist over the control protocol.
func (p *Playlist) RegisterCommands(registry *jsonrpc.Registry) {
	registry.Register("playlist.list", p.listCmd)
	registry.Register("playlist.add", p.addCmd)
	registry.Register("playlist.remove", p.removeCmd)
	registry.Register("playlist.clear", p.clearCmd)
	registry.Register("playlist.current", p.currentCmd)
	registry.Register("playlist.play", p.playCmd)
	registry.Register("playlist.next", p.nextCmd)
	registry.Register("playlist.previous", p.previousCmd)
	registry.Register("playlist.load", p.loadCmd)
}

func (p *Playlist) listCmd(json.RawMessage) (interface{}, *jsonrpc.Error) {
	entries := p.Entries()
	if entries == nil {
		entries = []library.Track{}
	}
	return entries, nil
}

func (p *Playlist) addCmd(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var track library.Track
	if err := jsonrpc.ParseParams(params, &track); err != nil {
		return nil, err
	}
	if track.Path == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "path is required")
	}
	return p.Add(track), nil
}

type idParams struct {
	ID string `json:"id"`
}

func (p *Playlist) removeCmd(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var req idParams
	if err := jsonrpc.ParseParams(params, &req); err != nil {
		return nil, err
	}
	if err := p.Remove(req.ID); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "%v", err)
	}
	return true, nil
}

func (p *Playlist) clearCmd(json.RawMessage) (interface{}, *jsonrpc.Error) {
	p.Clear()
	return true, nil
}

func (p *Playlist) currentCmd(json.RawMessage) (interface{}, *jsonrpc.Error) {
	track, err := p.Current()
	if errors.Is(err, ErrNoCurrentEntry) {
		return false, nil
	} else if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "%v", err)
	}
	return track, nil
}

func (p *Playlist) playCmd(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var req idParams
	if err := jsonrpc.ParseParams(params, &req); err != nil {
		return nil, err
	}
	track, err := p.SetCurrent(req.ID)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "%v", err)
	}
	return track, nil
}

func (p *Playlist) nextCmd(json.RawMessage) (interface{}, *jsonrpc.Error) {
	track, err := p.Next()
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "%v", err)
	}
	return track, nil
}

func (p *Playlist) previousCmd(json.RawMessage) (interface{}, *jsonrpc.Error) {
	track, err := p.Previous()
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "%v", err)
	}
	return track, nil
}

type loadParams struct {
	Path string `json:"path"`
}

func (p *Playlist) loadCmd(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var req loadParams
	if err := jsonrpc.ParseParams(params, &req); err != nil {
		return nil, err
	}
	count, err := p.ImportM3UFile(req.Path)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "%v", err)
	}
	return count, nil
}
