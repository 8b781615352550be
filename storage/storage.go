// Package storage handles persistence of user schedule profiles.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"creatormind/pkg/digest"
)

const keyPrefix = "profile-"

var errNotExist = errors.New("storage: object doesn't exist")

// Store handles profile persistence in Cloud Storage or a local directory.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	salt      []byte
}

// New creates a new storage handler. A non-empty localPath selects the local backend.
func New(client *storage.Client, bucket string, localPath string, salt []byte, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		salt:      salt,
		localPath: localPath,
		bucket:    bucket,
	}
}

// TokenFromEmail derives a deterministic, unguessable token from an email address.
func (s *Store) TokenFromEmail(email string) string {
	h := hmac.New(sha256.New, s.salt)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h.Sum(nil))
}

// ProfileKey returns the object name for token, or "" if the token is not a
// 64 character lowercase hex string.
func ProfileKey(token string) string {
	if len(token) != 64 {
		return ""
	}

	// Check every character so the time taken does not depend on where a mismatch is.
	valid := 1
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			valid = 0
		}
	}
	if valid == 0 {
		return ""
	}

	return keyPrefix + token + ".json"
}

func (s *Store) withRetry(ctx context.Context, op, key string, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", err)
		}),
	)
}

// Save writes a profile. Missing token, user ID and timestamps are filled in.
func (s *Store) Save(ctx context.Context, p *digest.Profile) error {
	if p.Token == "" {
		p.Token = s.TokenFromEmail(p.Email)
	}
	key := ProfileKey(p.Token)
	if key == "" {
		return errors.New("invalid token format")
	}
	if p.UserID == "" {
		p.UserID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Info("Profile saved to local storage", "path", filePath, "email", p.Email, "enabled", p.Enabled)
		return nil
	}

	err = s.withRetry(ctx, "save", key, func() error {
		w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
		w.ContentType = "application/json"
		if _, writeErr := w.Write(data); writeErr != nil {
			if closeErr := w.Close(); closeErr != nil {
				s.logger.Warn("Failed to close writer after error", "error", closeErr)
			}
			return fmt.Errorf("write to storage: %w", writeErr)
		}
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("close storage writer: %w", closeErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Profile saved", "key", key, "email", p.Email, "enabled", p.Enabled)
	return nil
}

// Load loads a profile by object key.
func (s *Store) Load(ctx context.Context, key string) (*digest.Profile, error) {
	if key == "" {
		return nil, errors.New("invalid key format")
	}

	var data []byte
	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotExist
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		missing := false
		err := s.withRetry(ctx, "load", key, func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					missing = true
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		})
		if missing {
			return nil, errNotExist
		}
		if err != nil {
			return nil, fmt.Errorf("load after retries: %w", err)
		}
	}

	var p digest.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	p.ApplyDefaults()
	return &p, nil
}

// LoadByEmail loads a profile by email address.
func (s *Store) LoadByEmail(ctx context.Context, email string) (*digest.Profile, error) {
	return s.Load(ctx, ProfileKey(s.TokenFromEmail(email)))
}

// LoadByToken loads a profile by its token.
func (s *Store) LoadByToken(ctx context.Context, token string) (*digest.Profile, error) {
	key := ProfileKey(token)
	if key == "" {
		// Same error as a missing object so callers cannot tell token formats apart.
		return nil, errNotExist
	}
	return s.Load(ctx, key)
}

// Delete removes the profile for email. Deleting a missing profile is not an error.
func (s *Store) Delete(ctx context.Context, email string) error {
	key := ProfileKey(s.TokenFromEmail(email))
	if key == "" {
		return errors.New("invalid token format")
	}

	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		s.logger.Info("Profile deleted from local storage", "email", email)
		return nil
	}

	err := s.withRetry(ctx, "delete", key, func() error {
		if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
			if errors.Is(deleteErr, storage.ErrObjectNotExist) {
				return nil
			}
			return fmt.Errorf("delete from storage: %w", deleteErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	s.logger.Info("Profile deleted", "key", key, "email", email)
	return nil
}

// List lists all profiles. Unreadable profiles are logged and skipped.
func (s *Store) List(ctx context.Context) ([]*digest.Profile, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}

	profiles := make([]*digest.Profile, 0, len(keys))
	for _, key := range keys {
		p, err := s.Load(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to load profile", "key", key, "error", err)
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// ListEnabled returns the profiles with digests enabled.
func (s *Store) ListEnabled(ctx context.Context) ([]*digest.Profile, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make([]*digest.Profile, 0, len(all))
	for _, p := range all {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}

func (s *Store) keys(ctx context.Context) ([]string, error) {
	var keys []string

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), keyPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, entry.Name())
		}
		return keys, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: keyPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// IsNotFound reports whether err means a profile does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotExist)
}
