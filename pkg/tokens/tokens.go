package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/log"
	"github.com/kaspa-aio/controller/pkg/types"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 15 * time.Minute

	// sweepInterval is how often expired and consumed tokens are collected.
	sweepInterval = 60 * time.Second

	// tokenBytes is the entropy of a token ID.
	tokenBytes = 32
)

// Payload is the launch context a token carries across the surface handoff.
type Payload struct {
	Mode     types.TokenMode   `json:"mode"`
	Profiles []string          `json:"profiles,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type token struct {
	payload   Payload
	issuedAt  time.Time
	expiresAt time.Time
	consumed  bool
}

// Store holds single-use handoff tokens in memory for the process lifetime.
type Store struct {
	ttl    time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	tokens map[string]*token

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewStore creates a token store with the default TTL.
func NewStore() *Store {
	return &Store{
		ttl:    DefaultTTL,
		logger: log.WithComponent("tokens"),
		tokens: make(map[string]*token),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// WithTTL overrides the token lifetime.
func (s *Store) WithTTL(ttl time.Duration) *Store {
	s.ttl = ttl
	return s
}

// Start begins the periodic sweep of dead tokens.
func (s *Store) Start() {
	go s.run()
}

// Stop stops the sweeper.
func (s *Store) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Store) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Issue creates a new single-use token and returns its ID.
func (s *Store) Issue(payload Payload) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errdefs.Wrap(err, errdefs.KindInternal, "cannot generate token")
	}
	id := hex.EncodeToString(buf)

	now := time.Now()
	s.mu.Lock()
	s.tokens[id] = &token{
		payload:   payload,
		issuedAt:  now,
		expiresAt: now.Add(s.ttl),
	}
	s.mu.Unlock()

	s.logger.Debug().Str("mode", string(payload.Mode)).Msg("token issued")
	return id, nil
}

// Peek returns a token's payload without consuming it.
func (s *Store) Peek(id string) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[id]
	if !ok {
		return Payload{}, errdefs.New(errdefs.KindTokenNotFound, "token not found")
	}
	if time.Now().After(tok.expiresAt) {
		return Payload{}, errdefs.New(errdefs.KindTokenExpired, "token expired")
	}
	if tok.consumed {
		return Payload{}, errdefs.New(errdefs.KindTokenConsumed, "token already consumed")
	}
	return tok.payload, nil
}

// Consume returns a token's payload and marks it used. A consumed token can
// never be consumed again.
func (s *Store) Consume(id string) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[id]
	if !ok {
		return Payload{}, errdefs.New(errdefs.KindTokenNotFound, "token not found")
	}
	if time.Now().After(tok.expiresAt) {
		return Payload{}, errdefs.New(errdefs.KindTokenExpired, "token expired")
	}
	if tok.consumed {
		return Payload{}, errdefs.New(errdefs.KindTokenConsumed, "token already consumed")
	}
	tok.consumed = true
	return tok.payload, nil
}

// Invalidate removes a token immediately.
func (s *Store) Invalidate(id string) {
	s.mu.Lock()
	delete(s.tokens, id)
	s.mu.Unlock()
}

// Sweep removes expired and consumed tokens; returns how many were dropped.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, tok := range s.tokens {
		if tok.consumed || now.After(tok.expiresAt) {
			delete(s.tokens, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("token sweep")
	}
	return removed
}

// Len returns the number of live tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
