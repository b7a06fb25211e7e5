package vault

import (
	"fmt"
	"time"

	"github.com/keyfold/keyfold-go/envelope"
)

// Party is one trust party from the account's server roster. Every party can
// wrap key material, because wrapping only needs the public key the store
// shares with everyone.
type Party interface {
	Name() string
	// Current reports whether this process holds the party's private key.
	Current() bool
	PublicKey() envelope.PublicKey
	// WrapContext wraps the context's raw material for this party and
	// returns the resulting header. The context itself is not modified.
	WrapContext(ec *envelope.Context) (envelope.Header, error)
}

// CurrentParty is a Party whose private key is held locally. Only a
// CurrentParty can recover raw material from a wrapped header or sign
// assertions in the party's name.
type CurrentParty interface {
	Party
	// UnwrapHeader recovers the full encryption context behind a wrapped
	// header.
	UnwrapHeader(header envelope.Header) (*envelope.Context, error)
	// SignAssertion signs a time-bounded JWT carrying the given claims.
	SignAssertion(claims map[string]any, ttl time.Duration) (string, error)
}

type remoteParty struct {
	name string
	key  envelope.PublicKey
}

func (p *remoteParty) Name() string { return p.name }

func (p *remoteParty) Current() bool { return false }

func (p *remoteParty) PublicKey() envelope.PublicKey { return p.key }

func (p *remoteParty) WrapContext(ec *envelope.Context) (envelope.Header, error) {
	return wrapContext(p.key, ec)
}

type currentParty struct {
	name string
	key  envelope.PrivateKey
}

func (p *currentParty) Name() string { return p.name }

func (p *currentParty) Current() bool { return true }

func (p *currentParty) PublicKey() envelope.PublicKey { return p.key }

func (p *currentParty) WrapContext(ec *envelope.Context) (envelope.Header, error) {
	return wrapContext(p.key, ec)
}

func (p *currentParty) UnwrapHeader(header envelope.Header) (*envelope.Context, error) {
	key, err := p.key.Unwrap(header.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key material: %w", err)
	}

	iv, err := p.key.Unwrap(header.IV)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap iv material: %w", err)
	}

	return &envelope.Context{Header: header, Key: key, IV: iv}, nil
}

func (p *currentParty) SignAssertion(claims map[string]any, ttl time.Duration) (string, error) {
	return p.key.SignAssertion(claims, ttl)
}

func wrapContext(key envelope.PublicKey, ec *envelope.Context) (envelope.Header, error) {
	wrappedKey, err := key.Wrap(ec.Key)
	if err != nil {
		return envelope.Header{}, fmt.Errorf("failed to wrap key material: %w", err)
	}

	wrappedIV, err := key.Wrap(ec.IV)
	if err != nil {
		return envelope.Header{}, fmt.Errorf("failed to wrap iv material: %w", err)
	}

	return envelope.Header{Key: wrappedKey, IV: wrappedIV}, nil
}
