// Package userstore provides the file-backed user directory with salted
// password hashes.
package userstore

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/doodlelabs/doodlechat/internal/logger"
)

var (
	// ErrUserExists is returned by Register when the username is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrAuthFailed is returned for both unknown users and wrong passwords.
	ErrAuthFailed = errors.New("authentication failed")
)

const saltSize = 16

// User is an immutable directory entry.
type User struct {
	Username string
	hash     []byte
	salt     []byte
}

// Store is a file-backed user directory. The whole file is rewritten on every
// registration so the on-disk state is never a partial record.
type Store struct {
	mu    sync.RWMutex
	path  string
	users map[string]*User
	log   *logger.Logger
}

// Open loads the user file at path. A missing file yields an empty store.
// Malformed lines are skipped with a warning.
func Open(path string, log *logger.Logger) (*Store, error) {
	s := &Store{
		path:  path,
		users: make(map[string]*User),
		log:   log.WithComponent("userstore"),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Info("User file not found, starting with empty store", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("open user file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		user, err := parseRecord(text)
		if err != nil {
			s.log.Warn("Skipping malformed user record", "path", path, "line", line, "error", err)
			continue
		}
		s.users[user.Username] = user
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read user file: %w", err)
	}

	s.log.Info("Loaded user file", "path", path, "users", len(s.users))
	return s, nil
}

func parseRecord(line string) (*User, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode hash: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	return &User{Username: parts[0], hash: hash, salt: salt}, nil
}

// Register creates a new user and persists the store before returning.
func (s *Store) Register(username, password string) error {
	if username == "" || strings.Contains(username, ":") {
		return fmt.Errorf("invalid username")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	user := &User{
		Username: username,
		hash:     hashPassword(salt, password),
		salt:     salt,
	}
	s.users[username] = user

	if err := s.saveLocked(); err != nil {
		delete(s.users, username)
		return fmt.Errorf("persist user file: %w", err)
	}
	return nil
}

// Authenticate verifies the password. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *Store) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	user, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		// Burn a hash anyway so timing does not reveal existence.
		hashPassword(make([]byte, saltSize), password)
		return nil, ErrAuthFailed
	}

	candidate := hashPassword(user.salt, password)
	if subtle.ConstantTimeCompare(candidate, user.hash) != 1 {
		return nil, ErrAuthFailed
	}
	return user, nil
}

// Count returns the number of registered users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func hashPassword(salt []byte, password string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}

// saveLocked rewrites the user file atomically. Callers hold the write lock.
func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".users-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, user := range s.users {
		record := fmt.Sprintf("%s:%s:%s\n",
			user.Username,
			base64.StdEncoding.EncodeToString(user.hash),
			base64.StdEncoding.EncodeToString(user.salt),
		)
		if _, err := w.WriteString(record); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
