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

// Package config loads and validates the server environment file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Env stores system configuration.
type Env struct {
	Port           int `yaml:"port"`     // Web interface.
	RTSPPort       int `yaml:"rtspPort"` // AirPlay RTSP.
	MaxConnections int `yaml:"maxConnections"`

	Name     string `yaml:"name"`     // Advertised service name.
	Password string `yaml:"password"` // Empty disables authentication.
	Realm    string `yaml:"realm"`

	KeyFile string `yaml:"keyFile"` // PEM encoded RSA private key.

	StorageDir string `yaml:"storageDir"`
	HomeDir    string `yaml:"homeDir"`
	ConfigDir  string
}

// ErrPathNotAbsolute path is not absolute.
var ErrPathNotAbsolute = errors.New("path is not absolute")

// NewEnv returns the environment configuration parsed from envYAML.
func NewEnv(envPath string, envYAML []byte) (*Env, error) {
	var env Env

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == 0 {
		env.Port = 8080
	}
	if env.RTSPPort == 0 {
		env.RTSPPort = 5000
	}
	if env.MaxConnections == 0 {
		env.MaxConnections = 5
	}
	if env.Name == "" {
		env.Name = "Airwave"
	}
	if env.Realm == "" {
		env.Realm = "airwave"
	}
	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.HomeDir, "storage")
	}

	if !filepath.IsAbs(env.HomeDir) {
		return nil, fmt.Errorf("homeDir '%v': %w", env.HomeDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}

	if env.KeyFile != "" {
		if !filepath.IsAbs(env.KeyFile) {
			return nil, fmt.Errorf("keyFile '%v': %w", env.KeyFile, ErrPathNotAbsolute)
		}
		if !fileExist(env.KeyFile) {
			return nil, fmt.Errorf("keyFile '%v': %w", env.KeyFile, os.ErrNotExist)
		}
	}

	return &env, nil
}

// LogDBPath returns the path of the log database.
func (env Env) LogDBPath() string {
	return filepath.Join(env.StorageDir, "logs.db")
}

// LibraryPath returns the path of the media library database.
func (env Env) LibraryPath() string {
	return filepath.Join(env.StorageDir, "library.db")
}

// AccountsPath returns the path of the web accounts file.
func (env Env) AccountsPath() string {
	return filepath.Join(env.ConfigDir, "accounts.json")
}

// WebDir returns the directory of the static web interface files.
func (env Env) WebDir() string {
	return filepath.Join(env.HomeDir, "web")
}

// PrepareEnvironment creates the storage directory.
func (env Env) PrepareEnvironment() error {
	err := os.MkdirAll(env.StorageDir, 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create storage directory: %v: %w", env.StorageDir, err)
	}
	return nil
}

func fileExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
