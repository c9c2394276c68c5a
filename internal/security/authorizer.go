package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/ports"
	chsync "github.com/brianly1003/chatcast/internal/sync"
)

const (
	// PrivatePrefix marks principal-scoped channels: private-<scope>.<target>.
	PrivatePrefix = "private-"

	// MaxChannelNameLength is the longest accepted channel name.
	MaxChannelNameLength = 164

	ScopeUser         = "user"
	ScopeConversation = "conversation"
)

// ChannelName is a parsed channel identifier.
type ChannelName struct {
	Raw    string
	Scope  string // empty for public channels
	Target string
}

// Private reports whether the channel is principal-scoped.
func (n ChannelName) Private() bool {
	return n.Scope != ""
}

// ParseChannelName validates name against the channel naming conventions.
func ParseChannelName(name string) (ChannelName, error) {
	if name == "" {
		return ChannelName{}, fmt.Errorf("empty channel name: %w", domain.ErrInvalidChannelName)
	}
	if len(name) > MaxChannelNameLength {
		return ChannelName{}, fmt.Errorf("channel name longer than %d: %w", MaxChannelNameLength, domain.ErrInvalidChannelName)
	}
	for i := 0; i < len(name); i++ {
		if !validChannelByte(name[i]) {
			return ChannelName{}, fmt.Errorf("channel name %q: character %q not allowed: %w", name, name[i], domain.ErrInvalidChannelName)
		}
	}

	if !strings.HasPrefix(name, PrivatePrefix) {
		return ChannelName{Raw: name}, nil
	}

	rest := strings.TrimPrefix(name, PrivatePrefix)
	scope, target, ok := strings.Cut(rest, ".")
	if !ok || scope == "" || target == "" {
		return ChannelName{}, fmt.Errorf("channel name %q: want %s<scope>.<id>: %w", name, PrivatePrefix, domain.ErrInvalidChannelName)
	}
	return ChannelName{Raw: name, Scope: scope, Target: target}, nil
}

func validChannelByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '_', '-', '=', '@', ',', '.', ';':
		return true
	}
	return false
}

// ScopePolicy decides access to private-<scope>.<target> channels.
type ScopePolicy interface {
	Allow(ctx context.Context, principal, target string) (bool, error)
}

// ScopePolicyFunc adapts a function to ScopePolicy.
type ScopePolicyFunc func(ctx context.Context, principal, target string) (bool, error)

// Allow calls f.
func (f ScopePolicyFunc) Allow(ctx context.Context, principal, target string) (bool, error) {
	return f(ctx, principal, target)
}

// OwnerPolicy allows only the principal named by the target.
func OwnerPolicy() ScopePolicy {
	return ScopePolicyFunc(func(_ context.Context, principal, target string) (bool, error) {
		return principal != "" && principal == target, nil
	})
}

// MembershipPolicy delegates to an external membership check for scope.
func MembershipPolicy(checker ports.MembershipChecker, scope string) ScopePolicy {
	return ScopePolicyFunc(func(ctx context.Context, principal, target string) (bool, error) {
		if checker == nil {
			return false, nil
		}
		return checker.IsMember(ctx, principal, scope, target)
	})
}

// Authorizer implements ports.SubscriptionAuthorizer over the channel naming
// conventions. Public channels admit any authenticated principal; private
// channels are checked by the policy registered for their scope.
type Authorizer struct {
	mu     chsync.RWMutex
	scopes map[string]ScopePolicy
}

var _ ports.SubscriptionAuthorizer = (*Authorizer)(nil)

// NewAuthorizer creates an authorizer with the user and conversation scopes.
// A nil checker denies every conversation channel.
func NewAuthorizer(checker ports.MembershipChecker) *Authorizer {
	a := &Authorizer{scopes: make(map[string]ScopePolicy)}
	a.RegisterScope(ScopeUser, OwnerPolicy())
	a.RegisterScope(ScopeConversation, MembershipPolicy(checker, ScopeConversation))
	return a
}

// RegisterScope installs or replaces the policy for private-<scope>.* channels.
func (a *Authorizer) RegisterScope(scope string, policy ScopePolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scopes[scope] = policy
}

// Scopes returns the registered scope names.
func (a *Authorizer) Scopes() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]string, 0, len(a.scopes))
	for scope := range a.scopes {
		result = append(result, scope)
	}
	return result
}

// Classify returns the access policy of channel.
func (a *Authorizer) Classify(channel string) (domain.ChannelPolicy, error) {
	name, _, err := a.resolve(channel)
	if err != nil {
		return "", err
	}
	if name.Private() {
		return domain.PolicyPrincipal, nil
	}
	return domain.PolicyPublic, nil
}

// Authorize decides whether principal may join channel. Errors are returned
// only for names that match no convention; a failing membership lookup is
// logged and denied.
func (a *Authorizer) Authorize(ctx context.Context, principal, channel string) (domain.Decision, error) {
	name, policy, err := a.resolve(channel)
	if err != nil {
		return domain.DecisionDenied, err
	}
	if principal == "" {
		return domain.DecisionDenied, nil
	}
	if !name.Private() {
		return domain.DecisionAuthorized, nil
	}

	ok, err := policy.Allow(ctx, principal, name.Target)
	if err != nil {
		log.Warn().Err(err).
			Str("principal", principal).
			Str("channel", channel).
			Msg("scope policy failed, denying subscription")
		return domain.DecisionDenied, nil
	}
	if !ok {
		return domain.DecisionDenied, nil
	}
	return domain.DecisionAuthorized, nil
}

func (a *Authorizer) resolve(channel string) (ChannelName, ScopePolicy, error) {
	name, err := ParseChannelName(channel)
	if err != nil {
		return ChannelName{}, nil, err
	}
	if !name.Private() {
		return name, nil, nil
	}

	a.mu.RLock()
	policy, ok := a.scopes[name.Scope]
	a.mu.RUnlock()
	if !ok {
		return ChannelName{}, nil, fmt.Errorf("channel %q: unknown scope %q: %w", channel, name.Scope, domain.ErrInvalidChannelName)
	}
	return name, policy, nil
}
