// Package identity derives and caches the per-device anonymous tag.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qbox-live/qbox/internal/models"
)

// ErrNotConfirmed is returned when a tag regeneration was not confirmed.
var ErrNotConfirmed = errors.New("tag regeneration not confirmed")

var animals = []string{"Panda", "Tiger", "Lion", "Eagle", "Dolphin", "Fox", "Wolf", "Bear", "Koala", "Owl"}

// Store persists one tag per device.
type Store interface {
	Get(ctx context.Context, deviceID string) (tag string, ok bool, err error)
	Set(ctx context.Context, deviceID, tag string) error
	Delete(ctx context.Context, deviceID string) error
}

// Provider hands out the device's anonymous tag. Store failures are logged
// and the provider keeps working from its in-memory copy.
type Provider struct {
	store    Store
	deviceID string
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	cached string
	loaded bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the clock used for time-derived tags.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithRand overrides the random source used for participant tags.
func WithRand(rng *rand.Rand) Option {
	return func(p *Provider) { p.rng = rng }
}

// NewProvider creates a provider for one device.
func NewProvider(store Store, deviceID string, logger *zap.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		store:    store,
		deviceID: deviceID,
		logger:   logger,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreateTag returns the cached tag, generating and persisting one for the
// role if none exists.
func (p *Provider) GetOrCreateTag(ctx context.Context, role models.Role) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tag, ok := p.loadLocked(ctx); ok {
		return tag
	}
	var tag string
	if role == models.RoleInstructor {
		tag = p.timeTagLocked("Lecturer")
	} else {
		tag = p.randomTagLocked()
	}
	p.saveLocked(ctx, tag)
	return tag
}

// Current returns the cached tag without creating one.
func (p *Provider) Current(ctx context.Context) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(ctx)
}

// RegenerateTag replaces the tag with a new random one. Questions asked under
// the old tag are no longer recognized as this device's.
func (p *Provider) RegenerateTag(ctx context.Context, confirmed bool) (string, error) {
	if !confirmed {
		return "", ErrNotConfirmed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old, _ := p.loadLocked(ctx)
	tag := p.randomTagLocked()
	for tag == old {
		tag = p.randomTagLocked()
	}
	p.saveLocked(ctx, tag)
	p.logger.Info("anonymous tag regenerated", zap.String("device_id", p.deviceID))
	return tag, nil
}

// Clear forgets the tag, as on logout.
func (p *Provider) Clear(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = ""
	p.loaded = true
	if err := p.store.Delete(ctx, p.deviceID); err != nil {
		p.logger.Warn("identity store delete failed", zap.String("device_id", p.deviceID), zap.Error(err))
	}
}

func (p *Provider) loadLocked(ctx context.Context) (string, bool) {
	if p.loaded {
		return p.cached, p.cached != ""
	}
	tag, ok, err := p.store.Get(ctx, p.deviceID)
	if err != nil {
		p.logger.Warn("identity store read failed", zap.String("device_id", p.deviceID), zap.Error(err))
		return "", false
	}
	p.loaded = true
	if ok {
		p.cached = tag
	}
	return p.cached, p.cached != ""
}

func (p *Provider) saveLocked(ctx context.Context, tag string) {
	p.cached = tag
	p.loaded = true
	if err := p.store.Set(ctx, p.deviceID, tag); err != nil {
		p.logger.Warn("identity store write failed", zap.String("device_id", p.deviceID), zap.Error(err))
	}
}

func (p *Provider) randomTagLocked() string {
	return fmt.Sprintf("%s#%d", animals[p.rng.Intn(len(animals))], 1000+p.rng.Intn(9000))
}

// timeTagLocked uses the last four digits of the millisecond clock.
func (p *Provider) timeTagLocked(label string) string {
	return fmt.Sprintf("%s %04d", label, p.now().UnixMilli()%10000)
}
