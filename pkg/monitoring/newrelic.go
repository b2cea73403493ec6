package monitoring

import (
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Config holds New Relic configuration
type Config struct {
	LicenseKey string
	AppName    string
	Enabled    bool
}

// App wraps the New Relic application; a zero-value license disables it.
type App struct {
	*newrelic.Application
	enabled bool
}

// New creates a new New Relic application
func New(cfg Config) (*App, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return &App{nil, false}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create New Relic application: %w", err)
	}

	return &App{app, true}, nil
}

// IsEnabled returns whether New Relic is enabled
func (a *App) IsEnabled() bool {
	return a != nil && a.enabled
}

// Shutdown gracefully shuts down the New Relic application
func (a *App) Shutdown(timeout time.Duration) {
	if !a.IsEnabled() || a.Application == nil {
		return
	}
	a.Application.Shutdown(timeout)
}

// The record helpers tolerate a nil receiver so callers can hold an
// optional *App without guarding every call site.

func (a *App) recordEvent(eventType string, params map[string]interface{}) {
	if !a.IsEnabled() || a.Application == nil {
		return
	}
	a.Application.RecordCustomEvent(eventType, params)
}

func (a *App) recordMetric(name string, value float64) {
	if !a.IsEnabled() || a.Application == nil {
		return
	}
	a.Application.RecordCustomMetric(name, value)
}

// Domain event helpers

// RecordQueueJoined records a driver joining the wait queue.
func (a *App) RecordQueueJoined(driverID string, rank int) {
	a.recordEvent("QueueJoined", map[string]interface{}{
		"driver_id": driverID,
		"rank":      rank,
		"timestamp": time.Now().Unix(),
	})
}

// RecordQueueLeft records a driver leaving the wait queue.
func (a *App) RecordQueueLeft(driverID string, voluntary bool) {
	a.recordEvent("QueueLeft", map[string]interface{}{
		"driver_id": driverID,
		"voluntary": voluntary,
	})
}

// RecordRideCommitted records a durably committed ride record.
func (a *App) RecordRideCommitted(rideID string, fare float64, travelMinutes, waitMinutes int) {
	a.recordEvent("RideCommitted", map[string]interface{}{
		"ride_id":        rideID,
		"fare":           fare,
		"travel_minutes": travelMinutes,
		"wait_minutes":   waitMinutes,
	})
}

// RecordRideBuffered records a commit that fell back to the local buffer.
func (a *App) RecordRideBuffered(rideID string) {
	a.recordMetric("custom/ledger/buffered_commits", 1)
	a.recordEvent("RideBuffered", map[string]interface{}{"ride_id": rideID})
}

// RecordDriverDemoted records a stale-session demotion.
func (a *App) RecordDriverDemoted(driverID string, absentFor time.Duration) {
	a.recordEvent("DriverDemoted", map[string]interface{}{
		"driver_id":      driverID,
		"absent_seconds": absentFor.Seconds(),
	})
}

// RecordQueueDepth records the current queue length.
func (a *App) RecordQueueDepth(depth int) {
	a.recordMetric("custom/queue/depth", float64(depth))
}
