package destination

import (
	"context"
	"sync"
)

// StaticProvider serves destinations from memory. It backs the CLI resolve
// command and tests.
type StaticProvider struct {
	mu           sync.Mutex
	destinations map[string]*Destination
	calls        int
	tokens       []string
}

// NewStaticProvider creates a provider holding dests keyed by name.
func NewStaticProvider(dests ...*Destination) *StaticProvider {
	p := &StaticProvider{destinations: make(map[string]*Destination, len(dests))}
	for _, d := range dests {
		p.destinations[d.Name] = d.Clone()
	}
	return p
}

// Fetch implements Provider.
func (p *StaticProvider) Fetch(_ context.Context, name, jwt string) (*Destination, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.tokens = append(p.tokens, jwt)
	return p.destinations[name].Clone(), nil
}

// Calls returns how many times Fetch ran.
func (p *StaticProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Tokens returns the tokens Fetch received, in call order.
func (p *StaticProvider) Tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tokens...)
}
