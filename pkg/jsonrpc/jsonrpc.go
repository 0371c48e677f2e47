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

// Package jsonrpc implements a JSON-RPC 2.0 request processor.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sync"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: %d %s", e.Code, e.Message)
}

// NewError returns an error with a formatted message.
func NewError(code int, format string, v ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, v...)}
}

type request struct {
	Version string           `json:"jsonrpc"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params"`
	ID      *json.RawMessage `json:"id"`
}

type response struct {
	Version string           `json:"jsonrpc"`
	Result  interface{}      `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
	ID      *json.RawMessage `json:"id"`
}

// Handler processes a single method call. A nil result with a nil
// error maps to a method not found response.
type Handler func(params json.RawMessage) (interface{}, *Error)

// Registry maps method names to handlers.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Handler)}
}

// Register adds a handler for a method name, replacing any previous
// handler.
func (r *Registry) Register(method string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = handler
}

// Unregister removes a method.
func (r *Registry) Unregister(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.methods, method)
}

// Methods returns the registered method names.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.methods))
	for method := range r.methods {
		methods = append(methods, method)
	}
	return methods
}

func (r *Registry) handler(method string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.methods[method]
}

// Process handles a single request or a batch and returns the encoded
// response. A nil return means no response should be sent.
func (r *Registry) Process(data []byte) []byte {
	var root json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil || len(root) == 0 {
		return encode(errResponse(nil, CodeParseError, "Parse error"))
	}

	if root[0] != '[' {
		resp := r.processOne(root)
		if resp == nil {
			return nil
		}
		return encode(*resp)
	}

	// Batch.
	var batch []json.RawMessage
	if err := json.Unmarshal(root, &batch); err != nil {
		return encode(errResponse(nil, CodeParseError, "Parse error"))
	}
	if len(batch) == 0 {
		return encode(errResponse(nil, CodeInvalidRequest, "Invalid request"))
	}

	responses := make([]response, 0, len(batch))
	for _, raw := range batch {
		if resp := r.processOne(raw); resp != nil {
			responses = append(responses, *resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	buf, err := json.Marshal(responses)
	if err != nil {
		return encode(errResponse(nil, CodeInternalError, "Internal error"))
	}
	return buf
}

func (r *Registry) processOne(raw json.RawMessage) *response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		resp := errResponse(nil, CodeInvalidRequest, "Invalid request")
		return &resp
	}

	if req.Version != "2.0" || req.Method == "" || !validParams(req.Params) {
		resp := errResponse(req.ID, CodeInvalidRequest, "Invalid request")
		return &resp
	}

	notification := req.ID == nil

	handler := r.handler(req.Method)
	if handler == nil {
		if notification {
			return nil
		}
		resp := errResponse(req.ID, CodeMethodNotFound, "Method not found")
		return &resp
	}

	result, rpcErr := handler(req.Params)
	if notification {
		return nil
	}

	if rpcErr != nil {
		return &response{Version: "2.0", Error: rpcErr, ID: req.ID}
	}
	if result == nil {
		resp := errResponse(req.ID, CodeMethodNotFound, "Method not found")
		return &resp
	}
	return &response{Version: "2.0", Result: result, ID: req.ID}
}

// Params must be absent, an object or an array.
func validParams(params json.RawMessage) bool {
	if len(params) == 0 {
		return true
	}
	return params[0] == '{' || params[0] == '['
}

func errResponse(id *json.RawMessage, code int, msg string) response {
	return response{
		Version: "2.0",
		Error:   &Error{Code: code, Message: msg},
		ID:      id,
	}
}

func encode(resp response) []byte {
	buf, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":` +
			`{"code":-32603,"message":"Internal error"},"id":null}`)
	}
	return buf
}

// ParseParams decodes params into v.
func ParseParams(params json.RawMessage, v interface{}) *Error {
	if len(params) == 0 {
		return NewError(CodeInvalidParams, "Invalid params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewError(CodeInvalidParams, "Invalid params")
	}
	return nil
}
