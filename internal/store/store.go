// Package store persists credentials and related records, encrypting
// every record before it reaches the backing database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"jiractl/internal/apperrors"
	"jiractl/internal/cryptobox"
	"jiractl/pkg/models"
)

// Store seals records on the way in and unseals them on the way out. The
// backend only ever sees ciphertext.
type Store struct {
	backend Backend
	box     *cryptobox.Box
}

// Open selects the backend from the database URL and prepares its schema.
// postgres:// and postgresql:// URLs use Postgres; anything else is
// treated as an SQLite file path.
func Open(ctx context.Context, databaseURL string, encryptionKey []byte) (*Store, error) {
	box, err := cryptobox.New(encryptionKey)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	return &Store{backend: backend, box: box}, nil
}

// New assembles a store from explicit parts. Tests use it to pair a
// throwaway backend with a fixed key.
func New(backend Backend, box *cryptobox.Box) *Store {
	return &Store{backend: backend, box: box}
}

func openBackend(ctx context.Context, databaseURL string) (Backend, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresBackend(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite:///"):
		return NewSQLiteBackend(ctx, strings.TrimPrefix(databaseURL, "sqlite:///"))
	default:
		return NewSQLiteBackend(ctx, databaseURL)
	}
}

func (s *Store) seal(v any) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %v", err)
	}
	return s.box.Seal(plain)
}

func (s *Store) unseal(sealed []byte, v any) error {
	plain, err := s.box.Open(sealed)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("failed to decode record: %v", err)
	}
	return nil
}

// SaveCredential seals and upserts the session's credential.
func (s *Store) SaveCredential(ctx context.Context, session string, cred models.Credential) error {
	sealed, err := s.seal(cred)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, session, KindCredential, sealed)
}

// LoadCredential returns the stored credential. A record that cannot be
// decrypted counts as absent authentication: the caller must log in again
// rather than retry.
func (s *Store) LoadCredential(ctx context.Context, session string) (models.Credential, error) {
	var cred models.Credential

	sealed, err := s.backend.Get(ctx, session, KindCredential)
	if errors.Is(err, errRecordNotFound) {
		return cred, apperrors.ErrCredentialNotFound
	}
	if err != nil {
		return cred, err
	}

	if err := s.unseal(sealed, &cred); err != nil {
		if errors.Is(err, apperrors.ErrDecryptFailed) {
			return cred, fmt.Errorf("%w: %w", apperrors.ErrAuthRequired, err)
		}
		return cred, err
	}
	return cred, nil
}

// DeleteCredential removes the session's credential. Deleting an absent
// credential is not an error.
func (s *Store) DeleteCredential(ctx context.Context, session string) error {
	return s.backend.Delete(ctx, session, KindCredential)
}

// SaveAuthSession seals and stores the state of a pending authorization
// attempt. A newer attempt for the same session replaces the older one.
func (s *Store) SaveAuthSession(ctx context.Context, session string, as models.AuthSession) error {
	sealed, err := s.seal(as)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, session, KindAuthSession, sealed)
}

// TakeAuthSession consumes the pending authorization attempt. The record
// is deleted atomically with the read, so it can be redeemed exactly once.
func (s *Store) TakeAuthSession(ctx context.Context, session string) (models.AuthSession, error) {
	var as models.AuthSession

	sealed, err := s.backend.Take(ctx, session, KindAuthSession)
	if errors.Is(err, errRecordNotFound) {
		return as, apperrors.ErrAuthSessionNotFound
	}
	if err != nil {
		return as, err
	}

	if err := s.unseal(sealed, &as); err != nil {
		return as, err
	}
	return as, nil
}

// SaveSite stores the tracker site resolved after login.
func (s *Store) SaveSite(ctx context.Context, session string, site models.Site) error {
	sealed, err := s.seal(site)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, session, KindSite, sealed)
}

// LoadSite returns the stored tracker site.
func (s *Store) LoadSite(ctx context.Context, session string) (models.Site, error) {
	var site models.Site

	sealed, err := s.backend.Get(ctx, session, KindSite)
	if errors.Is(err, errRecordNotFound) {
		return site, apperrors.ErrSiteNotResolved
	}
	if err != nil {
		return site, err
	}

	if err := s.unseal(sealed, &site); err != nil {
		return site, err
	}
	return site, nil
}

// SaveLastWorklog remembers the most recent single worklog submission so
// it can be undone.
func (s *Store) SaveLastWorklog(ctx context.Context, session string, last models.LastWorklog) error {
	sealed, err := s.seal(last)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, session, KindLastWorklog, sealed)
}

// TakeLastWorklog consumes the undo record. Each submission can be undone
// at most once.
func (s *Store) TakeLastWorklog(ctx context.Context, session string) (models.LastWorklog, error) {
	var last models.LastWorklog

	sealed, err := s.backend.Take(ctx, session, KindLastWorklog)
	if errors.Is(err, errRecordNotFound) {
		return last, apperrors.ErrNoWorklogToUndo
	}
	if err != nil {
		return last, err
	}

	if err := s.unseal(sealed, &last); err != nil {
		return last, err
	}
	return last, nil
}

// Ping reports backend reachability for health checks.
func (s *Store) Ping(ctx context.Context) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.backend.Ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
