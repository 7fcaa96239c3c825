// Copyright (c) CVMForge
// SPDX-License-Identifier: Apache-2.0

// Package statemachine provides a table-driven finite state machine.
// Transitions are fired synchronously so a sequential pipeline observes
// transition errors at the call site.
package statemachine

import (
	"context"
	"fmt"
	"sync"
)

type State interface {
	String() string
}

type Event interface {
	String() string
}

// Action runs on entry to a state. A non-nil error is returned to the
// Fire caller after the transition has been recorded.
type Action func(ctx context.Context, state State) error

type Transition struct {
	From  State
	Event Event
	To    State
}

type Machine struct {
	mu          sync.Mutex
	current     State
	transitions map[State]map[Event]State
	actions     map[State]Action
}

func New(initial State) *Machine {
	return &Machine{
		current:     initial,
		transitions: make(map[State]map[Event]State),
		actions:     make(map[State]Action),
	}
}

func (m *Machine) AddTransition(t Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transitions[t.From]; !ok {
		m.transitions[t.From] = make(map[Event]State)
	}
	m.transitions[t.From][t.Event] = t.To
}

// SetAction registers an entry action for state.
func (m *Machine) SetAction(state State, action Action) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.actions[state] = action
}

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CanFire reports whether event is a valid transition from the current state.
func (m *Machine) CanFire(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.transitions[m.current][event]
	return ok
}

// Fire applies event to the current state and runs the entry action of the
// target state, if any.
func (m *Machine) Fire(ctx context.Context, event Event) error {
	m.mu.Lock()
	current := m.current
	next, valid := m.transitions[current][event]
	if !valid {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition: %v -> %v", current, event)
	}
	m.current = next
	action := m.actions[next]
	m.mu.Unlock()

	if action != nil {
		return action(ctx, next)
	}

	return nil
}

// Reset returns the machine to initial, keeping the transition table.
func (m *Machine) Reset(initial State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = initial
}
