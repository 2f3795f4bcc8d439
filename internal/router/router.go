// Package router implements a filtered publish/subscribe topic. Every
// subscriber whose filter matches a message's attributes receives its own
// copy of the envelope; subscribers in an exclusive group must partition the
// attribute space so each message reaches exactly one of them.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrOverlap means two subscriptions of one exclusive group match the same message.
	ErrOverlap = errors.New("router: exclusive subscriptions overlap")
	// ErrGap means some message would match no subscription of an exclusive group.
	ErrGap = errors.New("router: exclusive subscriptions leave messages unrouted")
)

// Envelope is the immutable unit of delivery. All copies of one published
// message share the same ID.
type Envelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Attributes  Attributes      `json:"attributes,omitempty"`
	Body        json.RawMessage `json:"body"`
	PublishedAt time.Time       `json:"published_at"`
}

// DeliveryError reports one subscription that failed to accept a message.
type DeliveryError struct {
	Subscription string
	EnvelopeID   string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.EnvelopeID, e.Subscription, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Endpoint receives deliveries for a subscription. Implementations typically
// hand the envelope to a durable queue.
type Endpoint interface {
	Deliver(ctx context.Context, env Envelope) error
}

// EndpointFunc adapts a function to Endpoint.
type EndpointFunc func(ctx context.Context, env Envelope) error

// Deliver calls f.
func (f EndpointFunc) Deliver(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Subscription binds a filter to an endpoint. Subscriptions sharing a
// non-empty Group are validated as a partition of Filter.Key().
type Subscription struct {
	Name     string
	Filter   Filter
	Endpoint Endpoint
	Group    string
}

// Router is a single topic.
type Router struct {
	topic string
	now   func() time.Time

	mu   sync.RWMutex
	subs []Subscription
}

// New creates an empty topic.
func New(topic string) *Router {
	return &Router{topic: topic, now: time.Now}
}

// Topic returns the topic name.
func (r *Router) Topic() string { return r.topic }

// Subscribe registers a subscription. Grouped subscriptions are rejected when
// they read a different attribute than their group or overlap with it.
func (r *Router) Subscribe(sub Subscription) error {
	if sub.Name == "" {
		return errors.New("router: subscription name is required")
	}
	if sub.Endpoint == nil {
		return fmt.Errorf("router: subscription %s has no endpoint", sub.Name)
	}
	if sub.Filter.op == 0 {
		return fmt.Errorf("router: subscription %s has no filter", sub.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs {
		if existing.Name == sub.Name {
			return fmt.Errorf("router: duplicate subscription %s", sub.Name)
		}
	}
	if sub.Group != "" {
		group := append(r.group(sub.Group), sub)
		if err := checkOverlap(sub.Group, group); err != nil {
			return err
		}
	}
	r.subs = append(r.subs, sub)
	return nil
}

// Validate checks that every exclusive group covers its whole attribute
// space. Call it once all subscriptions are registered.
func (r *Router) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	done := map[string]bool{}
	for _, sub := range r.subs {
		if sub.Group == "" || done[sub.Group] {
			continue
		}
		done[sub.Group] = true
		group := r.group(sub.Group)
		if err := checkOverlap(sub.Group, group); err != nil {
			return err
		}
		filters := make([]Filter, len(group))
		for i, s := range group {
			filters[i] = s.Filter
		}
		for _, attrs := range probes(group[0].Filter.key, filters) {
			if countMatches(group, attrs) == 0 {
				return fmt.Errorf("%w: group %s drops %v", ErrGap, sub.Group, attrs)
			}
		}
	}
	return nil
}

func (r *Router) group(name string) []Subscription {
	var out []Subscription
	for _, s := range r.subs {
		if s.Group == name {
			out = append(out, s)
		}
	}
	return out
}

func checkOverlap(name string, group []Subscription) error {
	key := group[0].Filter.key
	filters := make([]Filter, len(group))
	for i, s := range group {
		if s.Filter.key != key {
			return fmt.Errorf("router: group %s mixes attributes %s and %s", name, key, s.Filter.key)
		}
		filters[i] = s.Filter
	}
	for _, attrs := range probes(key, filters) {
		if countMatches(group, attrs) > 1 {
			return fmt.Errorf("%w: group %s on %v", ErrOverlap, name, attrs)
		}
	}
	return nil
}

func countMatches(group []Subscription, attrs Attributes) int {
	n := 0
	for _, s := range group {
		if s.Filter.Match(attrs) {
			n++
		}
	}
	return n
}

// Matching returns the names of the subscriptions a message with attrs would reach.
func (r *Router) Matching(attrs Attributes) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, s := range r.subs {
		if s.Filter.Match(attrs) {
			names = append(names, s.Name)
		}
	}
	return names
}

// Publish delivers body to every matching subscription and returns the
// number of successful deliveries. A failing endpoint never prevents
// delivery to the others; every failure is joined as a *DeliveryError.
func (r *Router) Publish(ctx context.Context, body []byte, attrs Attributes) (int, error) {
	env := Envelope{
		ID:          uuid.NewString(),
		Topic:       r.topic,
		Attributes:  attrs.clone(),
		PublishedAt: r.now().UTC(),
	}
	r.mu.RLock()
	subs := make([]Subscription, len(r.subs))
	copy(subs, r.subs)
	r.mu.RUnlock()

	var (
		delivered int
		errs      []error
	)
	for _, s := range subs {
		if !s.Filter.Match(env.Attributes) {
			continue
		}
		cp := env
		cp.Attributes = env.Attributes.clone()
		cp.Body = append(json.RawMessage(nil), body...)
		if err := s.Endpoint.Deliver(ctx, cp); err != nil {
			errs = append(errs, &DeliveryError{Subscription: s.Name, EnvelopeID: env.ID, Err: err})
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// PublishJSON marshals v and publishes it.
func (r *Router) PublishJSON(ctx context.Context, v any, attrs Attributes) (int, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	return r.Publish(ctx, body, attrs)
}
