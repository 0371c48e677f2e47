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

package jsonrpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"airwave/pkg/log"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register("player.get_status", func(json.RawMessage) (interface{}, *Error) {
		return map[string]string{"state": "playing"}, nil
	})
	r.Register("player.set_volume", func(params json.RawMessage) (interface{}, *Error) {
		var p struct {
			Volume *float64 `json:"volume"`
		}
		if err := ParseParams(params, &p); err != nil {
			return nil, err
		}
		if p.Volume == nil || *p.Volume < 0 || *p.Volume > 1 {
			return nil, NewError(CodeInvalidParams, "Invalid params")
		}
		return true, nil
	})
	return r
}

func TestProcess(t *testing.T) {
	r := newTestRegistry()

	cases := []struct {
		name     string
		request  string
		response string
	}{
		{
			"result",
			`{"jsonrpc":"2.0","method":"player.get_status","id":1}`,
			`{"jsonrpc":"2.0","result":{"state":"playing"},"id":1}`,
		},
		{
			"stringID",
			`{"jsonrpc":"2.0","method":"player.get_status","id":"a"}`,
			`{"jsonrpc":"2.0","result":{"state":"playing"},"id":"a"}`,
		},
		{
			"objectParams",
			`{"jsonrpc":"2.0","method":"player.set_volume","params":{"volume":0.5},"id":2}`,
			`{"jsonrpc":"2.0","result":true,"id":2}`,
		},
		{
			"invalidParams",
			`{"jsonrpc":"2.0","method":"player.set_volume","params":{"volume":2},"id":3}`,
			`{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params"},"id":3}`,
		},
		{
			"methodNotFound",
			`{"jsonrpc":"2.0","method":"nope","id":4}`,
			`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":4}`,
		},
		{
			"parseError",
			`{"jsonrpc":`,
			`{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`,
		},
		{
			"missingVersion",
			`{"method":"player.get_status","id":5}`,
			`{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid request"},"id":5}`,
		},
		{
			"scalarParams",
			`{"jsonrpc":"2.0","method":"player.get_status","params":5,"id":6}`,
			`{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid request"},"id":6}`,
		},
		{
			"emptyBatch",
			`[]`,
			`{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid request"},"id":null}`,
		},
		{
			"batch",
			`[{"jsonrpc":"2.0","method":"player.get_status","id":1},` +
				`{"jsonrpc":"2.0","method":"nope","id":2}]`,
			`[{"jsonrpc":"2.0","result":{"state":"playing"},"id":1},` +
				`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":2}]`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.JSONEq(t, tc.response, string(r.Process([]byte(tc.request))))
		})
	}

	t.Run("notification", func(t *testing.T) {
		resp := r.Process([]byte(`{"jsonrpc":"2.0","method":"player.get_status"}`))
		require.Nil(t, resp)
	})

	t.Run("batchOfNotifications", func(t *testing.T) {
		resp := r.Process([]byte(
			`[{"jsonrpc":"2.0","method":"player.get_status"},` +
				`{"jsonrpc":"2.0","method":"nope"}]`))
		require.Nil(t, resp)
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func(json.RawMessage) (interface{}, *Error) { return 1, nil })
	r.Register("b", func(json.RawMessage) (interface{}, *Error) { return 2, nil })
	require.ElementsMatch(t, []string{"a", "b"}, r.Methods())

	r.Unregister("a")
	require.Equal(t, []string{"b"}, r.Methods())
}

func TestWebsocket(t *testing.T) {
	server := httptest.NewServer(Websocket(newTestRegistry(), log.NewMockLogger()))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	err = c.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","method":"player.get_status","id":1}`))
	require.NoError(t, err)

	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t,
		`{"jsonrpc":"2.0","result":{"state":"playing"},"id":1}`,
		string(data))

	// Notifications produce no reply, the next response belongs to the
	// following call.
	err = c.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","method":"player.get_status"}`))
	require.NoError(t, err)

	err = c.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","method":"nope","id":2}`))
	require.NoError(t, err)

	_, data, err = c.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t,
		`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":2}`,
		string(data))
}

func TestWebsocketMethodNotAllowed(t *testing.T) {
	server := httptest.NewServer(Websocket(NewRegistry(), log.NewMockLogger()))
	defer server.Close()

	resp, err := http.Post(server.URL, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
