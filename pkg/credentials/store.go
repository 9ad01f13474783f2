// Package credentials resolves cleartext API keys to stored credentials.
// Keys are never stored in cleartext; lookup hashes the presented key with
// SHA-256 and matches against the stored hash.
package credentials

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// Sentinel errors mapped to HTTP statuses at the API layer.
var (
	// ErrMalformed means the presented key does not match the key format.
	ErrMalformed = errors.New("api key is malformed")

	// ErrNotFound means no credential matches the key hash.
	ErrNotFound = errors.New("api key not found")

	// ErrInactive means the credential exists but has been deactivated.
	ErrInactive = errors.New("api key is inactive")
)

// keyPattern is the accepted cleartext key shape. The prefix selects the
// environment tag only; live and test keys have identical authority.
var keyPattern = regexp.MustCompile(`^sk_(live|test)_[a-zA-Z0-9]{24,}$`)

// Credential is a resolved API key.
type Credential struct {
	ID          int64
	UserID      string
	ProjectID   string
	Environment string // "live" or "test"
	Active      bool
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// Store resolves keys against the api_keys table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// last-used updates are coalesced per key hash so hot keys do not
	// write on every request
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// lastUsedCoalesce bounds how often a key's last_used_at is rewritten.
const lastUsedCoalesce = time.Minute

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		logger:   slog.Default().With("component", "credentials"),
		lastSeen: make(map[string]time.Time),
	}
}

// HashKey returns the hex SHA-256 digest of the cleartext key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ValidFormat reports whether the cleartext key matches the accepted shape.
func ValidFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// Resolve maps a cleartext key to its credential. Returns ErrMalformed,
// ErrNotFound, or ErrInactive when authentication should fail. On success
// the key's last-used instant is updated asynchronously.
func (s *Store) Resolve(ctx context.Context, key string) (*Credential, error) {
	if !ValidFormat(key) {
		return nil, ErrMalformed
	}

	hash := HashKey(key)

	var (
		cred     Credential
		lastUsed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, project_id, environment, active, created_at, last_used_at
		 FROM api_keys WHERE key_hash = $1`, hash).
		Scan(&cred.ID, &cred.UserID, &cred.ProjectID, &cred.Environment, &cred.Active, &cred.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}
	if lastUsed.Valid {
		cred.LastUsedAt = &lastUsed.Time
	}

	if !cred.Active {
		return nil, ErrInactive
	}

	s.touchLastUsed(hash)
	return &cred, nil
}

func (s *Store) touchLastUsed(hash string) {
	now := time.Now()

	s.mu.Lock()
	if seen, ok := s.lastSeen[hash]; ok && now.Sub(seen) < lastUsedCoalesce {
		s.mu.Unlock()
		return
	}
	s.lastSeen[hash] = now
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.db.ExecContext(ctx,
			`UPDATE api_keys SET last_used_at = $1 WHERE key_hash = $2`, now, hash); err != nil {
			s.logger.Warn("Failed to update api key last-used timestamp", "error", err)
		}
	}()
}

// Generate mints a fresh cleartext key for env ("live" or "test") and
// inserts its hash. The cleartext is returned exactly once; only the hash
// is stored.
func (s *Store) Generate(ctx context.Context, userID, projectID, env string) (string, error) {
	if env != "live" && env != "test" {
		return "", fmt.Errorf("invalid environment %q", env)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	key := fmt.Sprintf("sk_%s_%s", env, base62(raw))

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, user_id, project_id, environment) VALUES ($1, $2, $3, $4)`,
		HashKey(key), userID, projectID, env); err != nil {
		return "", fmt.Errorf("storing api key: %w", err)
	}
	return key, nil
}

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func base62(raw []byte) string {
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return string(out)
}
