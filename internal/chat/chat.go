// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

// Package chat defines the boundary to the external chat platform
// services: the message source that produced a command, and the user
// directory that resolves the issuing user's identity and level.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/streamward/streamward/pkg/modulesdk"
)

// Sentinel errors returned by the external service clients.
var (
	// ErrMessageNotFound is returned when the message source has no
	// message for the requested ID.
	ErrMessageNotFound = errors.New("message not found")
	// ErrUserNotFound is returned when the user directory has not yet
	// ingested the requested user.
	ErrUserNotFound = errors.New("user not found")
)

// Message is a chat message fetched from the message source.
type Message struct {
	ID          string
	ChannelID   string
	Text        string
	PublishedAt time.Time
}

// UserProfile is the permission-relevant user metadata resolved from the
// user directory.
type UserProfile struct {
	ID          string
	DisplayName string
	Level       modulesdk.Level
	Subscriber  bool
}

// MessageSource fetches full message content by ID. It is an external
// collaborator; implementations live outside this service.
type MessageSource interface {
	FetchMessage(ctx context.Context, messageID string) (*Message, error)
}

// UserDirectory looks up user identity and metadata by ID. It is an
// external collaborator; implementations live outside this service.
type UserDirectory interface {
	LookupUser(ctx context.Context, userID string) (*UserProfile, error)
}
