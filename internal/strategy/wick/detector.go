// Package wick classifies price samples as wicks and manages the cooldown
// window that suppresses rebalancing after one.
package wick

import (
	"fmt"
	"math"
	"time"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"
)

// Config holds the wick detection parameters.
type Config struct {
	ThresholdPct float64       // Move across the window that counts as a wick, in percent
	Window       time.Duration // Span of the sliding window
	Cooldown     time.Duration // Suppression period opened by a wick
}

// Detector keeps a sliding window of recent samples and the cooldown state.
// It is not safe for concurrent use; each engine owns one.
type Detector struct {
	cfg      Config
	window   []domain.PriceSample
	cooldown domain.CooldownState
}

// NewDetector creates a detector after validating cfg.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.ThresholdPct <= 0 {
		return nil, fmt.Errorf("%w: wick threshold must be positive, got %v", ports.ErrConfigurationError, cfg.ThresholdPct)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("%w: wick window must be positive, got %v", ports.ErrConfigurationError, cfg.Window)
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("%w: cooldown cannot be negative, got %v", ports.ErrConfigurationError, cfg.Cooldown)
	}
	return &Detector{cfg: cfg}, nil
}

// Classify adds sample to the window and reports whether it is a wick. A wick
// with no active cooldown opens one; an active cooldown is never extended.
func (d *Detector) Classify(sample domain.PriceSample) domain.WickVerdict {
	// Expiry is evaluated against the incoming sample before anything else so
	// a wick landing exactly on the expiry can open a fresh cooldown.
	if d.cooldown.Active && !sample.Timestamp.Before(d.cooldown.ExpiresAt) {
		d.cooldown = domain.CooldownState{}
	}

	d.evict(sample.Timestamp)
	d.window = append(d.window, sample)

	if len(d.window) < 2 {
		return domain.WickVerdict{}
	}

	ref := d.window[0].Price
	if ref <= 0 {
		return domain.WickVerdict{ReferencePrice: ref}
	}
	magnitude := math.Abs(sample.Price-ref) / ref * 100
	verdict := domain.WickVerdict{
		IsWick:         magnitude >= d.cfg.ThresholdPct,
		MagnitudePct:   magnitude,
		ReferencePrice: ref,
	}

	if verdict.IsWick && !d.cooldown.Active {
		d.cooldown = domain.CooldownState{
			Active:      true,
			TriggeredAt: sample.Timestamp,
			ExpiresAt:   sample.Timestamp.Add(d.cfg.Cooldown),
		}
		verdict.CooldownTriggered = true
	}
	return verdict
}

// evict drops samples older than the window relative to now.
func (d *Detector) evict(now time.Time) {
	cutoff := now.Add(-d.cfg.Window)
	i := 0
	for i < len(d.window) && d.window[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	// Compact once the dead prefix dominates so the backing array stays bounded.
	if i > len(d.window)/2 {
		d.window = append(d.window[:0:0], d.window[i:]...)
		return
	}
	d.window = d.window[i:]
}

// CooldownActive reports whether the cooldown suppresses decisions at t.
func (d *Detector) CooldownActive(t time.Time) bool {
	return d.cooldown.ActiveAt(t)
}

// Cooldown returns the current cooldown state.
func (d *Detector) Cooldown() domain.CooldownState {
	return d.cooldown
}

// WindowLen returns the number of samples currently retained.
func (d *Detector) WindowLen() int {
	return len(d.window)
}

// Reset clears the window and cooldown.
func (d *Detector) Reset() {
	d.window = nil
	d.cooldown = domain.CooldownState{}
}
