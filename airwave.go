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
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"airwave/pkg/airplay"
	"airwave/pkg/config"
	"airwave/pkg/discover"
	"airwave/pkg/jsonrpc"
	"airwave/pkg/library"
	"airwave/pkg/log"
	"airwave/pkg/playlist"
	"airwave/pkg/rtsp"
	"airwave/pkg/system"
	"airwave/pkg/web"
)

// Run loads the environment file and serves until interrupted.
func Run() error {
	envFlag := flag.String("env", "", "path to env.yaml")
	flag.Parse()

	if *envFlag == "" {
		flag.Usage()
		return nil
	}

	envPath, err := filepath.Abs(*envFlag)
	if err != nil {
		return fmt.Errorf("get absolute path of env.yaml: %w", err)
	}

	app, err := newApp(envPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
	case sig := <-stop:
		app.logger.Info().Src("app").Msgf("received %v, stopping", sig)
	}

	app.stop()
	cancel()
	return err
}

func newApp(envPath string) (*app, error) {
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("read env.yaml: %w", err)
	}

	env, err := config.NewEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("get environment config: %w", err)
	}

	if err := env.PrepareEnvironment(); err != nil {
		return nil, err
	}

	logger, err := log.NewLogger(env.LogDBPath())
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	auth, err := web.NewAuthenticator(env.AccountsPath(), env.Realm, logger)
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	lib, err := library.NewLibrary(env.LibraryPath())
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}

	registry := jsonrpc.NewRegistry()
	lib.RegisterCommands(registry)
	playlist.NewPlaylist().RegisterCommands(registry)

	sys := system.New(env.StorageDir, logger)
	sys.RegisterCommands(registry)

	state := newPlayerState()
	state.registerCommands(registry)

	var airplayHandler *airplay.Handler
	if env.KeyFile != "" {
		key, err := airplay.LoadKey(env.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load airplay key: %w", err)
		}
		airplayHandler = airplay.NewHandler(
			env.Name,
			env.Password,
			key,
			airplay.HardwareAddr(),
			func() airplay.Player { return newPlayer(state, logger) },
			logger,
		)
	}

	var rtspServer *rtsp.Server
	if airplayHandler != nil {
		rtspServer = rtsp.NewServer(
			airplayHandler,
			logger,
			":"+strconv.Itoa(env.RTSPPort),
			env.MaxConnections,
		)
	}

	webServer := web.NewServer(
		env.Port,
		env.WebDir(),
		auth,
		registry,
		logger,
		func() interface{} { return sys.Status() },
	)

	return &app{
		env:        *env,
		logger:     logger,
		library:    lib,
		system:     sys,
		rtspServer: rtspServer,
		webServer:  webServer,
	}, nil
}

type app struct {
	env        config.Env
	logger     *log.Logger
	library    *library.Library
	system     *system.System
	rtspServer *rtsp.Server
	webServer  *web.Server

	service *discover.Service
}

func (a *app) run(ctx context.Context) error {
	if err := a.logger.Start(ctx); err != nil {
		return fmt.Errorf("start logger: %w", err)
	}
	go a.logger.LogToStdout(ctx)
	go a.logger.LogToDB(ctx)

	a.logger.Info().Src("app").Msg("starting")

	if a.rtspServer != nil {
		if err := a.rtspServer.Start(); err != nil {
			return fmt.Errorf("start rtsp server: %w", err)
		}

		service, err := discover.Register(discover.Config{
			Name:     a.env.Name,
			Port:     a.env.RTSPPort,
			HWAddr:   airplay.HardwareAddr(),
			Password: a.env.Password != "",
		}, a.logger)
		if err != nil {
			a.logger.Warn().Src("app").
				Msgf("could not publish service: %v", err)
		} else {
			a.service = service
		}

		a.logger.Info().Src("app").
			Msgf("accepting AirPlay clients on port %v", a.env.RTSPPort)
	} else {
		a.logger.Warn().Src("app").
			Msg("no keyFile configured, AirPlay disabled")
	}

	go a.system.StatusLoop(ctx)

	a.logger.Info().Src("app").Msgf("serving web interface on port %v", a.env.Port)
	return a.webServer.Run(ctx)
}

func (a *app) stop() {
	if a.service != nil {
		a.service.Shutdown()
	}
	if a.rtspServer != nil {
		a.rtspServer.Stop()
	}
	a.library.Close() //nolint:errcheck
}
