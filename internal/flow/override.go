package flow

import (
	"sort"
	"strings"
	"sync"
)

// OverrideRegistry is the process-wide set of identities currently handled by
// a human operator instead of the automated flow. It is explicit injected
// state owned by the dispatcher, never a package-level singleton.
type OverrideRegistry struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewOverrideRegistry creates an empty registry.
func NewOverrideRegistry() *OverrideRegistry {
	return &OverrideRegistry{set: make(map[string]struct{})}
}

// Add puts an identity under manual control. Returns true if the identity was
// not already present.
func (r *OverrideRegistry) Add(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[identity]; ok {
		return false
	}
	r.set[identity] = struct{}{}
	return true
}

// Remove returns an identity to automated handling.
func (r *OverrideRegistry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.set, identity)
}

// Contains reports whether an identity is under manual control.
func (r *OverrideRegistry) Contains(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[identity]
	return ok
}

// List returns all overridden identities in sorted order.
func (r *OverrideRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.set))
	for identity := range r.set {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// ParseRelay parses an operator relay message of the form "@identity text",
// returning the target identity and the text to forward verbatim.
func ParseRelay(text string) (target, body string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "@") {
		return "", "", false
	}
	parts := strings.SplitN(trimmed[1:], " ", 2)
	if len(parts) < 2 || parts[0] == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSpace(parts[1]), true
}
