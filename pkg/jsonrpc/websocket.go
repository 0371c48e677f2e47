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
	"net/http"

	"airwave/pkg/log"

	"github.com/gorilla/websocket"
)

// Websocket returns a handler serving the registry over a websocket.
// Each text message holds one request or batch, each reply one
// response.
func Websocket(registry *Registry, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer c.Close()

		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Src("rpc").
						Conn(r.RemoteAddr).Msgf("read: %v", err)
				}
				return
			}

			resp := registry.Process(data)
			if resp == nil {
				continue
			}

			if err := c.WriteMessage(websocket.TextMessage, resp); err != nil {
				logger.Debug().Src("rpc").
					Conn(r.RemoteAddr).Msgf("write: %v", err)
				return
			}
		}
	})
}
