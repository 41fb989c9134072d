package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lox/forecastbot/internal/delivery"
)

var (
	ErrBadTarget     = errors.New("malformed target")
	ErrUnknownTarget = errors.New("no sender for target scheme")
)

// ParseTarget splits "scheme:destination", e.g. "discord:123" or "ftp:/charts/a.png".
func ParseTarget(target string) (scheme, dest string, err error) {
	scheme, dest, ok := strings.Cut(strings.TrimSpace(target), ":")
	if !ok || scheme == "" || dest == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadTarget, target)
	}
	return strings.ToLower(scheme), dest, nil
}

// Router dispatches deliveries to the sender registered for the target's scheme.
type Router struct {
	mu      sync.RWMutex
	senders map[string]delivery.Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[string]delivery.Sender)}
}

// Register routes targets with the given scheme to s.
func (r *Router) Register(scheme string, s delivery.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[strings.ToLower(scheme)] = s
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.senders))
	for s := range r.senders {
		out = append(out, s)
	}
	return out
}

func (r *Router) Send(ctx context.Context, d delivery.Delivery) error {
	scheme, _, err := ParseTarget(d.Target)
	if err != nil {
		return &delivery.DeliveryError{Target: d.Target, Err: err}
	}

	r.mu.RLock()
	s, ok := r.senders[scheme]
	r.mu.RUnlock()
	if !ok {
		return &delivery.DeliveryError{Target: d.Target, Err: fmt.Errorf("%w %q", ErrUnknownTarget, scheme)}
	}
	return s.Send(ctx, d)
}
