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

package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"airwave/pkg/log"

	"golang.org/x/crypto/bcrypt"
)

// Account contains user information.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password []byte `json:"password"` // Hashed password.
	IsAdmin  bool   `json:"isAdmin"`
}

// AccountObfuscated Account without sensitive information.
type AccountObfuscated struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// ValidateResponse ValidateRequest response.
type ValidateResponse struct {
	IsValid bool
	User    Account
}

// SetUserRequest set user details request.
type SetUserRequest struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	PlainPassword string `json:"plainPassword,omitempty"`
	IsAdmin       bool   `json:"isAdmin"`
}

// DefaultHashCost bcrypt hash cost.
const DefaultHashCost = 10

// Authenticator validates requests against the accounts file. With no
// accounts configured every request is allowed.
type Authenticator struct {
	path      string // Path to save user information.
	realm     string
	accounts  map[string]Account
	authCache map[string]ValidateResponse

	hashCost int

	logger *log.Logger
	mu     sync.Mutex
}

// NewAuthenticator creates an authenticator from the accounts file at
// path. A missing file is treated as an empty account list.
func NewAuthenticator(path, realm string, logger *log.Logger) (*Authenticator, error) {
	a := Authenticator{
		path:      path,
		realm:     realm,
		accounts:  make(map[string]Account),
		authCache: make(map[string]ValidateResponse),

		hashCost: DefaultHashCost,
		logger:   logger,
	}

	file, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return &a, nil
	}

	if err := json.Unmarshal(file, &a.accounts); err != nil {
		return nil, fmt.Errorf("unmarshal accounts: %w", err)
	}
	return &a, nil
}

// AuthDisabled reports whether all requests are allowed.
func (a *Authenticator) AuthDisabled() bool {
	defer a.mu.Unlock()
	a.mu.Lock()
	return len(a.accounts) == 0
}

// ValidateRequest should always take the same amount of
// time to run, even when username or password is invalid.
func (a *Authenticator) ValidateRequest(r *http.Request) ValidateResponse {
	req := r.Header.Get("Authorization")
	defer a.mu.Unlock()
	a.mu.Lock()
	if res, cacheExist := a.authCache[req]; cacheExist {
		return res
	}
	a.mu.Unlock()

	name, pass := parseBasicAuth(req)
	user, found := a.userByName(name)

	res := ValidateResponse{}

	if !found || name != user.Username {
		// Fake hash to prevent timing based attacks.
		bcrypt.GenerateFromPassword([]byte(name), a.hashCost) //nolint:errcheck
	} else if passwordsMatch(user.Password, pass) {
		res = ValidateResponse{IsValid: true, User: user}
	}
	a.mu.Lock()

	a.authCache[req] = res
	return res
}

func (a *Authenticator) userByName(name string) (Account, bool) {
	defer a.mu.Unlock()
	a.mu.Lock()

	for _, u := range a.accounts {
		if u.Username == name {
			return u, true
		}
	}
	return Account{}, false
}

// Modified from net/http. Link:
// https://cs.opensource.google/go/go/+/refs/tags/go1.17.8:src/net/http/request.go;l=949
func parseBasicAuth(str string) (username, password string) {
	const prefix = "Basic "
	if len(str) < len(prefix) || !strings.EqualFold(str[:len(prefix)], prefix) {
		return
	}
	c, err := base64.StdEncoding.DecodeString(str[len(prefix):])
	if err != nil {
		return
	}
	cs := string(c)
	s := strings.IndexByte(cs, ':')
	if s < 0 {
		return
	}
	return cs[:s], cs[s+1:]
}

func passwordsMatch(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// UsersList returns a obfuscated user list.
func (a *Authenticator) UsersList() map[string]AccountObfuscated {
	defer a.mu.Unlock()
	a.mu.Lock()

	list := make(map[string]AccountObfuscated)
	for id, user := range a.accounts {
		list[id] = AccountObfuscated{
			ID:       user.ID,
			Username: user.Username,
			IsAdmin:  user.IsAdmin,
		}
	}
	return list
}

// Errors.
var (
	ErrIDMissing       = errors.New("missing ID")
	ErrUsernameMissing = errors.New("missing username")
	ErrPasswordMissing = errors.New("password is required for new users")
	ErrUserNotExist    = errors.New("user does not exist")
)

// UserSet set user details.
func (a *Authenticator) UserSet(req SetUserRequest) error {
	defer a.mu.Unlock()
	a.mu.Lock()

	if req.ID == "" {
		return ErrIDMissing
	}
	if req.Username == "" {
		return ErrUsernameMissing
	}

	user, exists := a.accounts[req.ID]
	if !exists && req.PlainPassword == "" {
		return ErrPasswordMissing
	}
	a.mu.Unlock()

	user.ID = req.ID
	user.Username = req.Username
	user.IsAdmin = req.IsAdmin
	if req.PlainPassword != "" {
		hashedNewPassword, _ := bcrypt.GenerateFromPassword(
			[]byte(req.PlainPassword), a.hashCost)
		user.Password = hashedNewPassword
	}

	a.mu.Lock()
	a.accounts[user.ID] = user
	a.authCache = make(map[string]ValidateResponse)

	if err := a.saveToFile(); err != nil {
		return fmt.Errorf("could not save accounts to file: %w", err)
	}
	return nil
}

// UserDelete deletes user by id.
func (a *Authenticator) UserDelete(id string) error {
	defer a.mu.Unlock()
	a.mu.Lock()
	if _, exists := a.accounts[id]; !exists {
		return ErrUserNotExist
	}
	delete(a.accounts, id)

	// Reset cache.
	a.authCache = make(map[string]ValidateResponse)

	return a.saveToFile()
}

func (a *Authenticator) saveToFile() error {
	accounts, _ := json.MarshalIndent(a.accounts, "", "  ")
	return os.WriteFile(a.path, accounts, 0o600)
}

// User blocks unauthorized requests and prompts for login.
func (a *Authenticator) User(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.AuthDisabled() {
			next.ServeHTTP(w, r)
			return
		}

		res := a.ValidateRequest(r)
		if !res.IsValid {
			a.logFailedLogin(r)
			w.Header().Set("WWW-Authenticate", "Basic realm=\""+a.realm+"\"")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Admin blocks requests from non-admin users.
func (a *Authenticator) Admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.AuthDisabled() {
			next.ServeHTTP(w, r)
			return
		}

		res := a.ValidateRequest(r)
		if !res.IsValid || !res.User.IsAdmin {
			a.logFailedLogin(r)
			w.Header().Set("WWW-Authenticate", "Basic realm=\""+a.realm+"\"")
			http.Error(w, "Unauthorized.", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// logFailedLogin finds and logs the ip.
func (a *Authenticator) logFailedLogin(r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		return
	}
	username, _ := parseBasicAuth(r.Header.Get("Authorization"))

	ip := ""
	realIP := r.Header.Get("X-Real-Ip")
	if realIP != "" {
		ip += "real:" + realIP + " "
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" && forwarded != realIP {
		ip += "forwarded:" + forwarded + " "
	}
	remoteAddr := r.RemoteAddr
	if remoteAddr != "" && remoteAddr != forwarded {
		ip += "addr:" + remoteAddr
	}

	a.logger.Info().Src("auth").Msgf("failed login: username: %v %v", username, ip)
}
