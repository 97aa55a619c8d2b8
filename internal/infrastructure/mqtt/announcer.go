package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/cdp-core/internal/device"
)

// Publisher is the subset of Client used by the Announcer.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DeviceEvent is the payload of lifecycle event topics.
type DeviceEvent struct {
	Event     string      `json:"event"`
	Node      string      `json:"node"`
	Device    device.Info `json:"device"`
	Timestamp time.Time   `json:"timestamp"`
}

// Announcer mirrors device publication onto MQTT. It implements the
// lifecycle manager's Publisher interface.
//
// On Publish the device's Info is written retained to its state topic and
// a "created" event is sent. On Unpublish the retained state is cleared
// with an empty payload and a "removed" event is sent.
type Announcer struct {
	pub    Publisher
	topics Topics
	qos    byte
}

// NewAnnouncer creates an Announcer publishing through pub.
func NewAnnouncer(pub Publisher, topics Topics, qos byte) *Announcer {
	return &Announcer{pub: pub, topics: topics, qos: qos}
}

// Publish announces an Active device.
func (a *Announcer) Publish(ctx context.Context, info device.Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding device %s: %w", info.Name, err)
	}
	if err := a.pub.Publish(a.topics.DeviceState(info.Minor), state, a.qos, true); err != nil {
		return fmt.Errorf("publishing state of %s: %w", info.Name, err)
	}
	return a.event(EventCreated, info)
}

// Unpublish clears the device's retained state and announces its removal.
// Both steps are attempted even if the first fails.
func (a *Announcer) Unpublish(ctx context.Context, info device.Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	if err := a.pub.Publish(a.topics.DeviceState(info.Minor), nil, a.qos, true); err != nil {
		errs = append(errs, fmt.Errorf("clearing state of %s: %w", info.Name, err))
	}
	if err := a.event(EventRemoved, info); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Resync rewrites the retained state of every live device without sending
// events. It is run after a reconnect, when a broker without persistence
// may have lost the retained messages.
func (a *Announcer) Resync(ctx context.Context, devices []device.Info) error {
	var errs []error
	for _, info := range devices {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, err := json.Marshal(info)
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding device %s: %w", info.Name, err))
			continue
		}
		if err := a.pub.Publish(a.topics.DeviceState(info.Minor), state, a.qos, true); err != nil {
			errs = append(errs, fmt.Errorf("republishing state of %s: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Announcer) event(kind string, info device.Info) error {
	payload, err := json.Marshal(DeviceEvent{
		Event:     kind,
		Node:      a.topics.Node,
		Device:    info,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", kind, err)
	}
	if err := a.pub.Publish(a.topics.Event(kind), payload, a.qos, false); err != nil {
		return fmt.Errorf("publishing %s event for %s: %w", kind, info.Name, err)
	}
	return nil
}
