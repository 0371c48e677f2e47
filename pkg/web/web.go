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

// Package web serves the control interface over HTTP.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"airwave/pkg/jsonrpc"
	"airwave/pkg/log"

	"github.com/gorilla/websocket"
)

// Server is the HTTP control server.
type Server struct {
	addr   string
	mux    *http.ServeMux
	auth   *Authenticator
	logger *log.Logger
}

// StatusFunc returns a status snapshot to serve on the status route.
type StatusFunc func() interface{}

// NewServer returns a server with the default routes.
func NewServer(
	port int,
	webDir string,
	a *Authenticator,
	registry *jsonrpc.Registry,
	logger *log.Logger,
	status StatusFunc,
) *Server {
	s := &Server{
		addr:   ":" + strconv.Itoa(port),
		mux:    http.NewServeMux(),
		auth:   a,
		logger: logger,
	}

	s.mux.Handle("/", a.User(http.FileServer(http.Dir(webDir))))
	s.mux.Handle("/rpc", a.User(jsonrpc.Websocket(registry, logger)))

	s.mux.Handle("/api/status", a.User(handleStatus(status)))

	s.mux.Handle("/api/users", a.Admin(handleUsersList(a)))
	s.mux.Handle("/api/users/set", a.Admin(handleUserSet(a)))
	s.mux.Handle("/api/users/delete", a.Admin(handleUserDelete(a)))

	s.mux.Handle("/api/logs/feed", a.Admin(handleLogFeed(logger)))
	s.mux.Handle("/api/logs/query", a.Admin(handleLogQuery(logger)))

	return s
}

// Run the server until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{Addr: s.addr, Handler: s.mux}

	errC := make(chan error, 1)
	go func() { errC <- server.ListenAndServe() }()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// Handler returns the route multiplexer, used in tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func handleStatus(status StatusFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func handleUsersList(a *Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.UsersList()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func handleUserSet(a *Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		var req SetUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("could not decode request: %v", err),
				http.StatusBadRequest)
			return
		}

		if err := a.UserSet(req); err != nil {
			http.Error(w, fmt.Sprintf("could not set user: %v", err),
				http.StatusBadRequest)
			return
		}
	})
}

func handleUserDelete(a *Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		if err := a.UserDelete(r.URL.Query().Get("id")); err != nil {
			http.Error(w, fmt.Sprintf("could not delete user: %v", err),
				http.StatusBadRequest)
			return
		}
	})
}

// handleLogFeed opens a websocket with system logs.
func handleLogFeed(logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}

		sourcesCSV := r.URL.Query().Get("sources")
		var sources []string
		if sourcesCSV != "" {
			sources = strings.Split(sourcesCSV, ",")
		}

		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer c.Close()

		feed, cancel := logger.Subscribe()
		defer cancel()

		for {
			var entry log.Entry
			select {
			case entry = <-feed:
			case <-r.Context().Done():
				return
			}

			if !stringInStrings(entry.Src, sources) {
				continue
			}

			if err := c.WriteJSON(entry); err != nil {
				return
			}
		}
	})
}

func handleLogQuery(logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		query := r.URL.Query()

		levels := []log.Level{log.LevelError, log.LevelWarning, log.LevelInfo, log.LevelDebug}
		var sources []string
		if v := query.Get("sources"); v != "" {
			sources = strings.Split(v, ",")
		}

		limit := 100
		if v := query.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid limit: %v", err),
					http.StatusBadRequest)
				return
			}
			limit = n
		}

		entries, err := logger.Query(log.Query{
			Levels:  levels,
			Sources: sources,
			Limit:   limit,
		})
		if err != nil {
			http.Error(w, fmt.Sprintf("could not query logs: %v", err),
				http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func stringInStrings(source string, sources []string) bool {
	if len(sources) == 0 {
		return true
	}
	for _, src := range sources {
		if src == source {
			return true
		}
	}
	return false
}
