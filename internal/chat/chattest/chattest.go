// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

// Package chattest provides in-memory fakes for the external chat
// service clients, for use in tests.
package chattest

import (
	"context"
	"sync"

	"github.com/streamward/streamward/internal/chat"
)

// MessageSource is an in-memory chat.MessageSource.
type MessageSource struct {
	mu       sync.Mutex
	messages map[string]chat.Message
	fetches  int
	err      error
}

// NewMessageSource creates an empty fake message source.
func NewMessageSource() *MessageSource {
	return &MessageSource{messages: make(map[string]chat.Message)}
}

// Add stores a message for later fetching.
func (s *MessageSource) Add(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
}

// Fail makes every subsequent fetch return err.
func (s *MessageSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Fetches returns how many fetches have been attempted.
func (s *MessageSource) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// FetchMessage implements chat.MessageSource.
func (s *MessageSource) FetchMessage(_ context.Context, messageID string) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, chat.ErrMessageNotFound
	}
	out := msg
	return &out, nil
}

// UserDirectory is an in-memory chat.UserDirectory. FailFirst can make
// the first N lookups of a user return ErrUserNotFound, simulating a
// directory that has not ingested the user yet.
type UserDirectory struct {
	mu        sync.Mutex
	users     map[string]chat.UserProfile
	failFirst map[string]int
	lookups   int
}

// NewUserDirectory creates an empty fake user directory.
func NewUserDirectory() *UserDirectory {
	return &UserDirectory{
		users:     make(map[string]chat.UserProfile),
		failFirst: make(map[string]int),
	}
}

// Add stores a user profile.
func (d *UserDirectory) Add(profile chat.UserProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[profile.ID] = profile
}

// FailFirst makes the next n lookups of userID return ErrUserNotFound.
func (d *UserDirectory) FailFirst(userID string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFirst[userID] = n
}

// Lookups returns how many lookups have been attempted.
func (d *UserDirectory) Lookups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups
}

// LookupUser implements chat.UserDirectory.
func (d *UserDirectory) LookupUser(_ context.Context, userID string) (*chat.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if n := d.failFirst[userID]; n > 0 {
		d.failFirst[userID] = n - 1
		return nil, chat.ErrUserNotFound
	}
	profile, ok := d.users[userID]
	if !ok {
		return nil, chat.ErrUserNotFound
	}
	out := profile
	return &out, nil
}
