// Copyright 2025 KrakLabs
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
//
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// circuitState is the breaker's three-state machine (§4.6).
type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

const (
	// breakerOpenThreshold is C_OPEN: consecutive failures that trip the
	// breaker from closed to open.
	breakerOpenThreshold = 5
	// breakerResetTimeout is C_RESET: how long the breaker stays open
	// before allowing a single half-open probe.
	breakerResetTimeout = 60 * time.Second
)

// ErrCircuitOpen is returned by a breaker-wrapped provider call while the
// circuit is open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = fmt.Errorf("llm: circuit breaker open")

// CircuitBreaker wraps a Provider so that repeated failures stop further
// calls from reaching a provider that is clearly down, instead of letting
// every in-flight file pay the full request timeout (§4.6, §4.8 step 5).
type CircuitBreaker struct {
	inner Provider

	mu          sync.Mutex
	state       circuitState
	failures    int
	openedAt    time.Time
	halfOpenTry bool
}

// NewCircuitBreaker wraps an existing Provider.
func NewCircuitBreaker(inner Provider) *CircuitBreaker {
	return &CircuitBreaker{inner: inner, state: stateClosed}
}

func (b *CircuitBreaker) Name() string { return b.inner.Name() }

func (b *CircuitBreaker) Models(ctx context.Context) ([]string, error) {
	return b.inner.Models(ctx)
}

func (b *CircuitBreaker) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if !b.allow() {
		return nil, ErrCircuitOpen
	}
	resp, err := b.inner.Generate(ctx, req)
	b.record(err)
	return resp, err
}

func (b *CircuitBreaker) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !b.allow() {
		return nil, ErrCircuitOpen
	}
	resp, err := b.inner.Chat(ctx, req)
	b.record(err)
	return resp, err
}

// allow reports whether a call should proceed, transitioning open -> half-open
// once the reset timeout has elapsed.
func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.openedAt) < breakerResetTimeout {
			return false
		}
		b.state = stateHalfOpen
		b.halfOpenTry = true
		return true
	case stateHalfOpen:
		// Only one probe in flight at a time; further callers are
		// rejected until the probe resolves.
		if b.halfOpenTry {
			return false
		}
		b.halfOpenTry = true
		return true
	default:
		return true
	}
}

// record updates breaker state after a call completes.
func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.state = stateClosed
		b.halfOpenTry = false
		return
	}

	if b.state == stateHalfOpen {
		// The probe failed: reopen immediately for another full reset window.
		b.state = stateOpen
		b.openedAt = time.Now()
		b.halfOpenTry = false
		return
	}

	b.failures++
	if b.failures >= breakerOpenThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}
