package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Advertiser provides mDNS presence advertising.
type Advertiser interface {
	// AnnouncePresence starts advertising the device. A previous
	// announcement is replaced.
	AnnouncePresence(ctx context.Context, info *PresenceInfo) error

	// UpdatePresence replaces the TXT records of the current announcement.
	UpdatePresence(info *PresenceInfo) error

	// StopPresence withdraws the announcement.
	StopPresence() error
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		Interface: "",
		TTL:       DefaultTTL,
	}
}

// Presence keeps a device announcement current. It only pushes TXT updates
// when the advertised values change.
type Presence struct {
	advertiser Advertiser
	logger     *slog.Logger

	mu        sync.Mutex
	info      PresenceInfo
	announced bool
}

// NewPresence creates a Presence for info. Nothing is advertised until
// Announce is called.
func NewPresence(advertiser Advertiser, info PresenceInfo, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		advertiser: advertiser,
		info:       info,
		logger:     logger,
	}
}

// Announce validates the info and starts advertising it.
func (p *Presence) Announce(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := p.info
	if err := ValidateInstanceName(info.Instance()); err != nil {
		return err
	}
	if size := TXTRecordSize(EncodePresenceTXT(&info)); size > MaxTXTRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidTXTRecord, size)
	}

	if err := p.advertiser.AnnouncePresence(ctx, &info); err != nil {
		return fmt.Errorf("announce presence: %w", err)
	}
	p.announced = true
	p.logger.Info("presence announced",
		"instance", info.Instance(),
		"service", ServiceType,
		"sysid", info.SystemID,
		"compid", info.ComponentID)
	return nil
}

// UpdateRemaining advertises a new remaining charge. It returns false when
// nothing changed.
func (p *Presence) UpdateRemaining(remaining int8) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.announced {
		return false, ErrNotAnnounced
	}
	if p.info.BatteryRemaining == remaining {
		return false, nil
	}

	info := p.info
	info.BatteryRemaining = remaining
	if err := p.advertiser.UpdatePresence(&info); err != nil {
		return false, fmt.Errorf("update presence: %w", err)
	}
	p.info = info
	return true, nil
}

// Info returns the advertised info.
func (p *Presence) Info() PresenceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Withdraw stops advertising. It is a no-op before Announce.
func (p *Presence) Withdraw() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.announced {
		return nil
	}
	p.announced = false
	return p.advertiser.StopPresence()
}
