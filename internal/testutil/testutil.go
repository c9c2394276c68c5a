// Package testutil provides shared test doubles for chatcast tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
)

// MockAuthorizer implements ports.SubscriptionAuthorizer for testing.
// By default empty names are invalid, "private-user.<p>" is authorized only
// for principal p, any other "private-" name is denied and everything else
// is public.
type MockAuthorizer struct {
	mu        sync.Mutex
	allow     map[string]map[string]bool // principal -> channel -> decision
	authErr   error
	callCount int
}

// NewMockAuthorizer creates a mock authorizer with the default rules.
func NewMockAuthorizer() *MockAuthorizer {
	return &MockAuthorizer{
		allow: make(map[string]map[string]bool),
	}
}

// Classify returns the policy for channel.
func (m *MockAuthorizer) Classify(channel string) (domain.ChannelPolicy, error) {
	if strings.TrimSpace(channel) == "" || strings.ContainsAny(channel, " /#") {
		return "", domain.ErrInvalidChannelName
	}
	if strings.HasPrefix(channel, "private-") {
		return domain.PolicyPrincipal, nil
	}
	return domain.PolicyPublic, nil
}

// Authorize applies overrides set with Allow/Deny, then the default rules.
func (m *MockAuthorizer) Authorize(ctx context.Context, principal, channel string) (domain.Decision, error) {
	m.mu.Lock()
	m.callCount++
	authErr := m.authErr
	override, hasOverride := m.allow[principal][channel]
	m.mu.Unlock()

	if authErr != nil {
		return domain.DecisionDenied, authErr
	}
	policy, err := m.Classify(channel)
	if err != nil {
		return domain.DecisionDenied, err
	}
	if hasOverride {
		if override {
			return domain.DecisionAuthorized, nil
		}
		return domain.DecisionDenied, nil
	}
	if policy == domain.PolicyPublic {
		return domain.DecisionAuthorized, nil
	}
	if channel == "private-user."+principal {
		return domain.DecisionAuthorized, nil
	}
	return domain.DecisionDenied, nil
}

// Allow authorizes principal for channel regardless of the default rules.
func (m *MockAuthorizer) Allow(principal, channel string) {
	m.set(principal, channel, true)
}

// Deny denies principal for channel regardless of the default rules.
func (m *MockAuthorizer) Deny(principal, channel string) {
	m.set(principal, channel, false)
}

func (m *MockAuthorizer) set(principal, channel string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allow[principal] == nil {
		m.allow[principal] = make(map[string]bool)
	}
	m.allow[principal][channel] = v
}

// SetError makes every Authorize call fail with err.
func (m *MockAuthorizer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authErr = err
}

// CallCount returns the number of Authorize calls.
func (m *MockAuthorizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// MockMembershipChecker implements ports.MembershipChecker for testing.
type MockMembershipChecker struct {
	mu      sync.Mutex
	members map[string]bool
	err     error
}

// NewMockMembershipChecker creates an empty membership checker.
func NewMockMembershipChecker() *MockMembershipChecker {
	return &MockMembershipChecker{members: make(map[string]bool)}
}

// AddMember records principal as a member of scope/target.
func (m *MockMembershipChecker) AddMember(principal, scope, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[membershipKey(principal, scope, target)] = true
}

// SetError makes every IsMember call fail with err.
func (m *MockMembershipChecker) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// IsMember reports whether principal was added to scope/target.
func (m *MockMembershipChecker) IsMember(ctx context.Context, principal, scope, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.members[membershipKey(principal, scope, target)], nil
}

func membershipKey(principal, scope, target string) string {
	return principal + "\x00" + scope + "\x00" + target
}

// PublishedEvent is a call recorded by MockPublisher.
type PublishedEvent struct {
	Channel string
	Type    events.EventType
	Payload interface{}
}

// MockPublisher implements ports.MessagePublisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	published []PublishedEvent
	seq       map[string]uint64
	err       error
}

// NewMockPublisher creates a mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{seq: make(map[string]uint64)}
}

// SetError makes every publish fail with err.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// OnMessageStored records a message-created event on the default channel.
func (m *MockPublisher) OnMessageStored(ctx context.Context, msg events.ChatMessage) (*events.BroadcastEvent, error) {
	return m.Publish(ctx, "everyone", events.EventTypeMessageCreated, msg)
}

// Publish records the call and returns an event with a per-channel sequence.
func (m *MockPublisher) Publish(ctx context.Context, channel string, eventType events.EventType, payload interface{}) (*events.BroadcastEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	data, err := events.EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	m.seq[channel]++
	m.published = append(m.published, PublishedEvent{Channel: channel, Type: eventType, Payload: payload})
	return events.NewBroadcastEvent(channel, eventType, m.seq[channel], data), nil
}

// Published returns a copy of the recorded calls.
func (m *MockPublisher) Published() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]PublishedEvent, len(m.published))
	copy(result, m.published)
	return result
}
