package transcribe

import (
	"errors"
	"sync"
)

// Shared hands out one lazily created [Client] to every component of an
// application. It replaces a process-wide singleton: the application owns
// the Shared value and passes it to whoever needs the client.
type Shared struct {
	factory func(token string) *Client

	mu     sync.Mutex
	client *Client
}

// NewShared returns an accessor that builds its client with factory on the
// first [Shared.Get] that supplies a credential.
func NewShared(factory func(token string) *Client) *Shared {
	return &Shared{factory: factory}
}

// Get returns the shared client. The first call with a non-empty token
// creates it; later calls return the same client whatever token they pass.
// Calls before any token was supplied fail with [ErrNotInitialized].
func (s *Shared) Get(token string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	if token == "" {
		return nil, ErrNotInitialized
	}
	if s.factory == nil {
		return nil, errors.New("transcribe: shared accessor has no factory")
	}
	s.client = s.factory(token)
	return s.client, nil
}

// Close closes the shared client, if one was created. A later Get with a
// token creates a fresh client.
func (s *Shared) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
