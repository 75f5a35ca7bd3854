package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithConnID adds a connection ID to the context.
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ContextKeyConnID, connID)
}

// WithUsername adds a username to the context.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

// WithRoom adds a room name to the context.
func WithRoom(ctx context.Context, room string) context.Context {
	return context.WithValue(ctx, ContextKeyRoom, room)
}

// GenerateConnID generates a new connection ID.
func GenerateConnID() string {
	return uuid.New().String()
}
