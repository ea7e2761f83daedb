package discovery

import (
	"context"
	"time"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// BrowseDevices searches for announcing devices. The channel is closed
	// when the context is cancelled.
	BrowseDevices(ctx context.Context) (<-chan *DeviceService, error)

	// FindBySystemID returns the first device announcing systemID.
	// Returns when found or when context is cancelled/timeout.
	FindBySystemID(ctx context.Context, systemID uint8) (*DeviceService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for browse operations.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		Interface:     "",
	}
}

// FilterFunc is a function that filters browse results.
type FilterFunc func(*DeviceService) bool

// FilterBySystemID returns a filter that matches devices with the given system ID.
func FilterBySystemID(systemID uint8) FilterFunc {
	return func(svc *DeviceService) bool {
		return svc.SystemID == systemID
	}
}

// FilterByType returns a filter that matches devices with any of the given types.
func FilterByType(types ...string) FilterFunc {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}

	return func(svc *DeviceService) bool {
		_, ok := set[svc.Type]
		return ok
	}
}

// FilterBrowseResults filters a channel of device services.
func FilterBrowseResults(in <-chan *DeviceService, filter FilterFunc) <-chan *DeviceService {
	out := make(chan *DeviceService)
	go func() {
		defer close(out)
		for svc := range in {
			if filter(svc) {
				out <- svc
			}
		}
	}()
	return out
}
