// Package seed manages each user's provably-fair seed: the committed server
// seed, the player's client seed and the nonce counter.
//
// A seed's hash is stored, and shown to the player, before any outcome is
// derived from it. The secret is revealed only after the seed is retired,
// either explicitly through Rotate or when its nonce space is exhausted.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/settlement-engine/internal/fairness"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/svcerr"
)

const maxClientSeedLen = 64

// Service is the seed store.
type Service struct {
	store    store.Store
	maxNonce int64
	now      func() time.Time
}

// NewService creates a seed service. A seed is retired once maxNonce nonces
// have been handed out under it.
func NewService(st store.Store, maxNonce int64) *Service {
	return &Service{
		store:    st,
		maxNonce: maxNonce,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reservation is one nonce handed out under a seed.
type Reservation struct {
	Seed  model.Seed // state before the reservation; carries the secret
	Nonce int64
	// Rotated is set when the reservation exhausted the seed and a successor
	// was committed in the same transaction.
	Rotated bool
}

// Rotation is the result of retiring a seed.
type Rotation struct {
	Revealed model.Seed `json:"revealed"`
	Next     model.Seed `json:"next"`
}

// CurrentSeed returns the user's active seed, creating one if none exists.
func (s *Service) CurrentSeed(ctx context.Context, userID string) (*model.Seed, error) {
	seed, err := s.store.GetActiveSeed(ctx, userID)
	if err == nil {
		return seed, nil
	}
	if !errors.Is(err, svcerr.ErrSeedNotFound) {
		return nil, err
	}

	var created *model.Seed
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = s.ensure(ctx, tx, userID)
		return err
	})
	if errors.Is(err, svcerr.ErrAlreadyExists) {
		// lost a creation race; the winner's seed is active now
		return s.store.GetActiveSeed(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("create seed for %s: %w", userID, err)
	}
	return created, nil
}

// NextNonce reserves a nonce in its own transaction.
func (s *Service) NextNonce(ctx context.Context, userID string) (int64, error) {
	var nonce int64
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		r, err := s.Reserve(ctx, tx, userID)
		if err != nil {
			return err
		}
		nonce = r.Nonce
		return nil
	})
	return nonce, err
}

// Reserve locks the active seed inside tx and hands out its next nonce. The
// reservation commits or rolls back with tx, so a nonce is never handed out
// twice and a failed settlement does not burn one.
func (s *Service) Reserve(ctx context.Context, tx store.Tx, userID string) (*Reservation, error) {
	seed, err := s.ensure(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	r := &Reservation{Seed: *seed, Nonce: seed.Nonce}

	seed.Nonce++
	if seed.Nonce < s.maxNonce {
		if err := tx.UpdateSeedNonce(ctx, seed); err != nil {
			return nil, err
		}
		return r, nil
	}

	if _, err := s.retireAndReplace(ctx, tx, seed, seed.ClientSeed); err != nil {
		return nil, err
	}
	r.Rotated = true
	return r, nil
}

// Rotate retires the active seed, revealing its secret, and commits a new
// one. An empty clientSeed keeps the current client seed.
func (s *Service) Rotate(ctx context.Context, userID, clientSeed string) (*Rotation, error) {
	if len(clientSeed) > maxClientSeedLen {
		return nil, fmt.Errorf("client seed longer than %d: %w", maxClientSeedLen, svcerr.ErrValidation)
	}

	var rot *Rotation
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		seed, err := tx.LockActiveSeed(ctx, userID)
		if err != nil {
			return err
		}
		if clientSeed == "" {
			clientSeed = seed.ClientSeed
		}
		next, err := s.retireAndReplace(ctx, tx, seed, clientSeed)
		if err != nil {
			return err
		}
		rot = &Rotation{Revealed: *seed, Next: next.Public()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rotate seed for %s: %w", userID, err)
	}
	return rot, nil
}

// History lists the user's seeds with active secrets redacted.
func (s *Service) History(ctx context.Context, userID string) ([]model.Seed, error) {
	seeds, err := s.store.ListSeeds(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range seeds {
		seeds[i] = seeds[i].Public()
	}
	return seeds, nil
}

func (s *Service) ensure(ctx context.Context, tx store.Tx, userID string) (*model.Seed, error) {
	seed, err := tx.LockActiveSeed(ctx, userID)
	if err == nil {
		return seed, nil
	}
	if !errors.Is(err, svcerr.ErrSeedNotFound) {
		return nil, err
	}
	seed, err = s.newSeed(userID, "")
	if err != nil {
		return nil, err
	}
	err = tx.InsertSeed(ctx, seed)
	if errors.Is(err, svcerr.ErrAlreadyExists) {
		// A rotation committed while the lock above was waiting. Its
		// successor is the active seed now.
		return tx.LockActiveSeed(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return seed, nil
}

// retireAndReplace marks seed revealed and inserts its successor. seed is
// updated in place.
func (s *Service) retireAndReplace(ctx context.Context, tx store.Tx, seed *model.Seed, clientSeed string) (*model.Seed, error) {
	now := s.now()
	seed.Active = false
	seed.RevealedAt = &now
	if err := tx.RetireSeed(ctx, seed); err != nil {
		return nil, err
	}
	next, err := s.newSeed(seed.UserID, clientSeed)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertSeed(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Service) newSeed(userID, clientSeed string) (*model.Seed, error) {
	serverSeed, err := fairness.NewServerSeed()
	if err != nil {
		return nil, err
	}
	if clientSeed == "" {
		if clientSeed, err = fairness.NewClientSeed(); err != nil {
			return nil, err
		}
	}
	return &model.Seed{
		ID:             uuid.NewString(),
		UserID:         userID,
		ServerSeed:     serverSeed,
		ServerSeedHash: fairness.HashServerSeed(serverSeed),
		ClientSeed:     clientSeed,
		Active:         true,
		CreatedAt:      s.now(),
	}, nil
}
