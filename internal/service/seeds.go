package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"mysterypack/internal/fairness"
	"mysterypack/internal/lock"
	"mysterypack/internal/logger"
	"mysterypack/internal/storage"
)

// Client seed defaults.
const (
	DefaultClientSeed          = "default"
	DefaultMaxClientSeedLength = 64
	revealedListLimit          = 50
)

// SeedView is the public face of a seed pair. ServerSeed is only filled for
// revealed pairs.
type SeedView struct {
	ID         string     `json:"id"`
	Commitment string     `json:"commitment"`
	ClientSeed string     `json:"client_seed"`
	Counter    uint64     `json:"counter"`
	Active     bool       `json:"active"`
	ServerSeed string     `json:"server_seed,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevealedAt *time.Time `json:"revealed_at,omitempty"`
}

func viewOf(s *storage.SeedPair) SeedView {
	v := SeedView{
		ID:         s.ID,
		Commitment: s.Commitment,
		ClientSeed: s.ClientSeed,
		Counter:    s.Counter,
		Active:     s.Active,
		CreatedAt:  s.CreatedAt,
		RevealedAt: s.RevealedAt,
	}
	if s.Revealed() {
		v.ServerSeed = s.ServerSeed
	}
	return v
}

// RotateResult is returned by Rotate.
type RotateResult struct {
	Revealed      SeedView `json:"revealed"`
	NewCommitment string   `json:"new_commitment"`
	Active        SeedView `json:"active"`
}

// SeedService manages per-user seed commitments.
type SeedService struct {
	locker            lock.Locker
	retry             RetryPolicy
	defaultClientSeed string
	maxClientSeedLen  int
}

// NewSeedService creates a new seed service
func NewSeedService(locker lock.Locker, retry RetryPolicy, defaultClientSeed string, maxClientSeedLen int) *SeedService {
	if defaultClientSeed == "" {
		defaultClientSeed = DefaultClientSeed
	}
	if maxClientSeedLen <= 0 {
		maxClientSeedLen = DefaultMaxClientSeedLength
	}
	return &SeedService{
		locker:            locker,
		retry:             retry,
		defaultClientSeed: defaultClientSeed,
		maxClientSeedLen:  maxClientSeedLen,
	}
}

// ValidateClientSeed rejects empty, oversized or non-UTF-8 client seeds.
func (s *SeedService) ValidateClientSeed(seed string) error {
	switch {
	case seed == "":
		return fmt.Errorf("%w: must not be empty", ErrInvalidClientSeed)
	case len(seed) > s.maxClientSeedLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidClientSeed, s.maxClientSeedLen)
	case !utf8.ValidString(seed):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidClientSeed)
	}
	return nil
}

// GetOrCreateActive returns the user's active pair, creating one with
// counter 0 if none exists.
func (s *SeedService) GetOrCreateActive(ctx context.Context, userID string) (SeedView, error) {
	if userID == "" {
		return SeedView{}, invalid("user_id", "required")
	}
	var view SeedView
	err := inUserTx(ctx, s.locker, s.retry, "seed_get_or_create", userID, func(tx *sql.Tx) error {
		seed, err := s.activeForDraw(ctx, tx, userID)
		if err != nil {
			return err
		}
		view = viewOf(seed)
		return nil
	})
	return view, err
}

// Rotate reveals the active pair and activates a fresh one with counter 0.
// newClientSeed may be empty to keep the current client seed.
func (s *SeedService) Rotate(ctx context.Context, userID, newClientSeed string) (*RotateResult, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	if newClientSeed != "" {
		if err := s.ValidateClientSeed(newClientSeed); err != nil {
			return nil, err
		}
	}

	var result *RotateResult
	err := inUserTx(ctx, s.locker, s.retry, "seed_rotate", userID, func(tx *sql.Tx) error {
		current, err := storage.GetActiveSeed(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNoActiveSeed
		}

		now := time.Now().UTC()
		if err := storage.RevealSeed(ctx, tx, current.ID, now); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.ErrConflict
			}
			return err
		}
		current.Active = false
		current.RevealedAt = &now

		clientSeed := newClientSeed
		if clientSeed == "" {
			clientSeed = current.ClientSeed
		}
		next, err := s.createTx(ctx, tx, userID, clientSeed)
		if err != nil {
			return err
		}

		result = &RotateResult{
			Revealed:      viewOf(current),
			NewCommitment: next.Commitment,
			Active:        viewOf(next),
		}
		logger.Debug(userID, "seed_rotated", fmt.Sprintf("revealed=%s draws=%d new_commitment=%s", current.Commitment, current.Counter, next.Commitment))
		return nil
	})
	return result, err
}

// SetClientSeed replaces the client seed of the active pair, creating the
// pair first if the user has none.
func (s *SeedService) SetClientSeed(ctx context.Context, userID, clientSeed string) (SeedView, error) {
	if userID == "" {
		return SeedView{}, invalid("user_id", "required")
	}
	if err := s.ValidateClientSeed(clientSeed); err != nil {
		return SeedView{}, err
	}
	var view SeedView
	err := inUserTx(ctx, s.locker, s.retry, "seed_set_client", userID, func(tx *sql.Tx) error {
		seed, err := s.activeForDraw(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := s.applyClientSeed(ctx, tx, seed, clientSeed); err != nil {
			return err
		}
		view = viewOf(seed)
		return nil
	})
	return view, err
}

// ListRevealed returns the user's revealed pairs with their server seeds.
func (s *SeedService) ListRevealed(ctx context.Context, userID string) ([]SeedView, error) {
	seeds, err := storage.ListRevealedSeeds(ctx, storage.DB(), userID, revealedListLimit)
	if err != nil {
		return nil, err
	}
	views := make([]SeedView, 0, len(seeds))
	for i := range seeds {
		views = append(views, viewOf(&seeds[i]))
	}
	return views, nil
}

// activeForDraw loads the active pair inside tx, creating one if needed.
func (s *SeedService) activeForDraw(ctx context.Context, tx *sql.Tx, userID string) (*storage.SeedPair, error) {
	seed, err := storage.GetActiveSeed(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if seed != nil {
		return seed, nil
	}
	return s.createTx(ctx, tx, userID, s.defaultClientSeed)
}

func (s *SeedService) applyClientSeed(ctx context.Context, tx *sql.Tx, seed *storage.SeedPair, clientSeed string) error {
	if seed.ClientSeed == clientSeed {
		return nil
	}
	if err := storage.UpdateClientSeed(ctx, tx, seed.ID, clientSeed); err != nil {
		return err
	}
	seed.ClientSeed = clientSeed
	return nil
}

// advance consumes the pair's current counter value.
func (s *SeedService) advance(ctx context.Context, tx *sql.Tx, seed *storage.SeedPair) error {
	if err := storage.AdvanceCounter(ctx, tx, seed.ID, seed.Counter); err != nil {
		return err
	}
	seed.Counter++
	return nil
}

func (s *SeedService) createTx(ctx context.Context, tx *sql.Tx, userID, clientSeed string) (*storage.SeedPair, error) {
	secret, err := fairness.NewServerSeed()
	if err != nil {
		return nil, err
	}
	seed := &storage.SeedPair{
		ID:         uuid.NewString(),
		UserID:     userID,
		ServerSeed: secret,
		Commitment: fairness.Commit(secret),
		ClientSeed: clientSeed,
	}
	if err := storage.CreateSeed(ctx, tx, seed); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Another writer activated a pair first.
			return nil, storage.ErrConflict
		}
		return nil, err
	}
	logger.Debug(userID, "seed_created", fmt.Sprintf("seed_id=%s commitment=%s", seed.ID, seed.Commitment))
	return seed, nil
}
