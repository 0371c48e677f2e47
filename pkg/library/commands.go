package library

import (
	"encoding/json"
	"errors"

	"airwave/pkg/jsonrpc"
)

// RegisterCommands exposes the library over the control protocol.
func (l *Library) RegisterCommands(registry *jsonrpc.Registry) {
	registry.Register("library.list", l.listCmd)
	registry.Register("library.get", l.getCmd)
	registry.Register("library.add", l.addCmd)
	registry.Register("library.remove", l.removeCmd)
	registry.Register("library.artists", l.artistsCmd)
	registry.Register("library.albums", l.albumsCmd)
}

func (l *Library) listCmd(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var q Query
	if len(params) != 0 {
		if err := jsonrpc.ParseParams(params, &q); err != nil {
			return nil, err
		}
	}

	tracks, err := l.Tracks(q)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "%v", err)
	}
	if tracks == nil {
		tracks = []Track{}
	}
	return tracks, nil
}

type idParams struct {
	ID string `json:"id"`
}

func (l *Library) getCmd(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p idParams
	if err := jsonrpc.ParseParams(params, &p); err != nil {
		return nil, err
	}

	track, err := l.Get(p.ID)
	if errors.Is(err, ErrTrackNotExist) {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "%v", err)
	} else if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "%v", err)
	}
	return track, nil
}

func (l *Library) addCmd(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var track Track
	if err := jsonrpc.ParseParams(params, &track); err != nil {
		return nil, err
	}

	track, err := l.Add(track)
	if errors.Is(err, ErrTrackPathEmpty) || errors.Is(err, ErrTrackTitleEmpty) {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "%v", err)
	} else if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "%v", err)
	}
	return track, nil
}

func (l *Library) removeCmd(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p idParams
	if err := jsonrpc.ParseParams(params, &p); err != nil {
		return nil, err
	}

	err := l.Delete(p.ID)
	if errors.Is(err, ErrTrackNotExist) {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "%v", err)
	} else if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "%v", err)
	}
	return true, nil
}

func (l *Library) artistsCmd(json.RawMessage) (interface{}, *jsonrpc.Error) {
	artists, err := l.Artists()
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "%v", err)
	}
	if artists == nil {
		artists = []string{}
	}
	return artists, nil
}

type albumsParams struct {
	Artist string `json:"artist"`
}

func (l *Library) albumsCmd(params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p albumsParams
	if len(params) != 0 {
		if err := jsonrpc.ParseParams(params, &p); err != nil {
			return nil, err
		}
	}

	albums, err := l.Albums(p.Artist)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "%v", err)
	}
	if albums == nil {
		albums = []string{}
	}
	return albums, nil
}
