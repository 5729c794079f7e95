// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package statsdexp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// ErrNoAddrs is returned by NewDefaultTransport when given an empty
// address list.
var ErrNoAddrs = errors.New("statsdexp: no addresses configured")

// DefaultTransport is non-blocking UDP with lazy connect: each address's
// socket is dialed on first send, not at construction, so a StatsD agent
// that isn't listening yet doesn't fail exporter startup.
type DefaultTransport struct {
	mu    sync.Mutex
	addrs []string
	conns map[string]net.Conn
}

// NewDefaultTransport builds a transport over addrs, indexed by the same
// stringified shard keys ("0", "1", ...) the Exporter's rendezvous ring
// uses.
func NewDefaultTransport(addrs []string) (*DefaultTransport, error) {
	if len(addrs) == 0 {
		return nil, ErrNoAddrs
	}
	return &DefaultTransport{addrs: addrs, conns: make(map[string]net.Conn)}, nil
}

func (t *DefaultTransport) connFor(shardKey string) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[shardKey]; ok {
		return c, nil
	}
	idx, err := strconv.Atoi(shardKey)
	if err != nil || idx < 0 || idx >= len(t.addrs) {
		idx = 0
	}
	conn, err := net.Dial("udp", t.addrs[idx])
	if err != nil {
		return nil, fmt.Errorf("statsdexp: dial %s: %w", t.addrs[idx], err)
	}
	t.conns[shardKey] = conn
	return conn, nil
}

func (t *DefaultTransport) Send(ctx context.Context, shardKey string, payload []byte) error {
	conn, err := t.connFor(shardKey)
	if err != nil {
		return err
	}
	_, err = conn.Write(payload)
	if err != nil {
		return fmt.Errorf("statsdexp: write: %w", err)
	}
	return nil
}

func (t *DefaultTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, c := range t.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
