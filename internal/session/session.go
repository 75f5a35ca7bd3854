// Package session maps opaque tokens to authenticated sessions with an
// absolute TTL.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Session is a durable identity that survives transport disconnects. The
// current room is remembered so a reconnect can reattach the user.
type Session struct {
	Token     string
	Username  string
	ExpiresAt time.Time

	mu   sync.Mutex
	room string // empty = lobby
}

// Expired reports whether the session is past its absolute expiry.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Room returns the remembered room name, empty when in the lobby.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// SetRoom records the room the session is currently in.
func (s *Session) SetRoom(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = name
}

// ClearRoom returns the session to the lobby.
func (s *Session) ClearRoom() {
	s.SetRoom("")
}

// newToken mints an unguessable 128-bit token.
func newToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
