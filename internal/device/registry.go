package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches paired devices in memory over a Repository.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the Create and Delete operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache = make(map[string]Device, len(devices))
	for _, d := range devices {
		r.cache[d.SerialNumber] = d
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice returns a paired device or ErrDeviceNotFound.
func (r *Registry) GetDevice(serial string) (Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	d, ok := r.cache[serial]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return d, nil
}

// ListDevices returns all paired devices ordered by name.
func (r *Registry) ListDevices() []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, d)
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name == devices[j].Name {
			return devices[i].SerialNumber < devices[j].SerialNumber
		}
		return devices[i].Name < devices[j].Name
	})
	return devices
}

// DeviceCount returns the number of paired devices.
func (r *Registry) DeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// CreateDevice validates, persists and caches a new device.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.SerialNumber] = *d
	r.cacheMu.Unlock()

	r.logger.Info("device paired", "serial", d.SerialNumber, "kind", d.Kind, "name", d.Name)
	return nil
}

// DeleteDevice removes a device from the repository and the cache.
func (r *Registry) DeleteDevice(ctx context.Context, serial string) error {
	if err := r.repo.Delete(ctx, serial); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, serial)
	r.cacheMu.Unlock()

	r.logger.Info("device removed", "serial", serial)
	return nil
}
