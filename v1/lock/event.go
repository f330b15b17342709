package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Lock states carried by Event.
const (
	StateLocked   = "locked"
	StateUnlocked = "unlocked"
)

// Reasons carried by Event.
const (
	ReasonAcquired = "acquired"
	ReasonDenied   = "denied"
	ReasonManual   = "manual"
	ReasonExpired  = "expired"
)

// Event describes a processing lock transition or a denied attempt.
type Event struct {
	Lock       string    `json:"lock"`
	State      string    `json:"state"`
	Reason     string    `json:"reason"`
	Generation uint64    `json:"generation,omitempty"`
	At         time.Time `json:"at"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
}

// EventKey returns the watchbus key a lock named name publishes on.
func EventKey(name string) string {
	return "lock:" + name
}

// publish sends ev on the event bus. Callers hold p.mu.
func (p *Processing) publish(ev Event) error {
	if p.events == nil {
		return nil
	}
	ev.Lock = p.name
	ev.At = p.clock.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode lock event: %w", err)
	}
	if err := p.events.Publish(context.Background(), EventKey(p.name), data); err != nil {
		return fmt.Errorf("publish lock event: %w", err)
	}
	return nil
}

func (p *Processing) logPublishErr(err error) {
	if err != nil {
		p.logger.Warn("processing lock event dropped", "error", err)
	}
}
