package vault

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/keyfold/keyfold-go/envelope"
)

// ServerManager performs the operations only a locally-keyed trust party can:
// signing assertions as itself and encrypting payloads for its remote peers.
type ServerManager struct {
	capability envelope.Capability
	party      CurrentParty
	remotes    map[string]Party
}

// ServerManager returns a manager scoped to the named party. The party must
// be Current, and the returned manager is pinned to the roster as loaded at
// call time.
func (m *ObjectManager) ServerManager(name string) (*ServerManager, error) {
	party, err := m.Party(name)
	if err != nil {
		return nil, err
	}

	current, ok := party.(CurrentParty)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotCurrentParty, name)
	}

	m.partiesMu.RLock()
	remotes := make(map[string]Party)
	for remoteName, remote := range m.parties {
		if !remote.Current() {
			remotes[remoteName] = remote
		}
	}
	m.partiesMu.RUnlock()

	return &ServerManager{
		capability: m.capability,
		party:      current,
		remotes:    remotes,
	}, nil
}

// Name returns the managed party's name.
func (s *ServerManager) Name() string {
	return s.party.Name()
}

// Remotes returns the sorted names of the parties payloads can be encrypted
// for.
func (s *ServerManager) Remotes() []string {
	return slices.Sorted(maps.Keys(s.remotes))
}

// SignAssertion signs a time-bounded JWT carrying the given claims as the
// managed party.
func (s *ServerManager) SignAssertion(claims map[string]any, ttl time.Duration) (string, error) {
	return s.party.SignAssertion(claims, ttl)
}

// EncryptFor seals a payload for the named remote party. A fresh context is
// generated, wrapped for the remote and used exactly once; the returned
// header is the only way to recover the material, and only the remote can.
func (s *ServerManager) EncryptFor(remoteName string, payload []byte) (envelope.Header, *envelope.Sealed, error) {
	remote, ok := s.remotes[remoteName]
	if !ok {
		return envelope.Header{}, nil, fmt.Errorf("%w: %q", ErrUnknownParty, remoteName)
	}

	ec, err := s.capability.GenerateContext()
	if err != nil {
		return envelope.Header{}, nil, err
	}

	header, err := remote.WrapContext(ec)
	if err != nil {
		return envelope.Header{}, nil, err
	}

	sealed, err := s.capability.Encrypt(ec, payload)
	if err != nil {
		return envelope.Header{}, nil, err
	}

	return header, sealed, nil
}
