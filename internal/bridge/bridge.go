package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/miiobridge/internal/config"
	"github.com/muurk/miiobridge/internal/coordinator"
	"github.com/muurk/miiobridge/internal/descriptor"
	"github.com/muurk/miiobridge/internal/entity"
	"github.com/muurk/miiobridge/internal/logging"
	"github.com/muurk/miiobridge/internal/miio"
)

// colorTempMiredsKey is the derived state key carrying the light color
// temperature in mireds. Devices report kelvin; Home Assistant MQTT
// lights speak mireds.
const colorTempMiredsKey = "color_temperature_mireds"

// Commander is the command surface of a device the bridge dispatches to.
type Commander interface {
	SetProperty(ctx context.Context, id string, value any) error
	CallAction(ctx context.Context, id string, args ...any) error
}

// Bridge mirrors configured devices into Home Assistant over MQTT
// discovery: retained config payloads announce the entities, state is
// published on every coordinator update, and command topics feed writes
// back to the devices.
type Bridge struct {
	client pubSub
	prefix string

	mu      sync.Mutex
	devices map[string]*binding
}

type binding struct {
	meta     DeviceMeta
	entities []*entity.Entity
	device   Commander
	coord    *coordinator.Coordinator
	unsubs   []func()
	cancel   context.CancelFunc
}

// New connects to the MQTT broker and announces the bridge as online.
func New(prefs *config.MQTTPrefs) (*Bridge, error) {
	client, err := newMQTTClient(prefs, BridgeAvailabilityTopic)
	if err != nil {
		return nil, err
	}
	prefix := prefs.DiscoveryPrefix
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	b := newWithClient(client, prefix)
	if err := client.publish(BridgeAvailabilityTopic, []byte(payloadOnline), true); err != nil {
		return nil, err
	}
	return b, nil
}

func newWithClient(client pubSub, prefix string) *Bridge {
	return &Bridge{
		client:  client,
		prefix:  prefix,
		devices: make(map[string]*binding),
	}
}

// AddDevice announces a device's entities, wires its command topics and
// starts mirroring coordinator updates until RemoveDevice or Close.
func (b *Bridge) AddDevice(meta DeviceMeta, entities []*entity.Entity, device Commander, coord *coordinator.Coordinator) error {
	b.mu.Lock()
	if _, exists := b.devices[meta.DeviceID]; exists {
		b.mu.Unlock()
		return fmt.Errorf("device %s is already bridged", meta.DeviceID)
	}
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	bind := &binding{
		meta:     meta,
		entities: entities,
		device:   device,
		coord:    coord,
		cancel:   cancel,
	}

	// Retained discovery configs announce the entities.
	for _, e := range entities {
		payload, err := json.Marshal(buildDiscoveryConfig(meta, e))
		if err != nil {
			cancel()
			return fmt.Errorf("failed to marshal discovery config for %s: %w", e.UniqueID, err)
		}
		topic := configTopic(b.prefix, e.Platform, meta.DeviceID, e.EntityID)
		if err := b.client.publish(topic, payload, true); err != nil {
			cancel()
			return fmt.Errorf("failed to publish discovery config for %s: %w", e.UniqueID, err)
		}
	}

	// Command topics.
	for topic, handler := range b.commandHandlers(ctx, bind) {
		unsub, err := b.client.subscribe(topic, handler)
		if err != nil {
			cancel()
			for _, u := range bind.unsubs {
				u()
			}
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		bind.unsubs = append(bind.unsubs, unsub)
	}

	b.mu.Lock()
	b.devices[meta.DeviceID] = bind
	b.mu.Unlock()

	// Mirror coordinator updates until the binding is torn down.
	updates, cancelSub := coord.Subscribe()
	go func() {
		defer cancelSub()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.publishUpdate(bind, update)
			}
		}
	}()

	return nil
}

// commandHandlers builds the topic -> handler map for every writable
// surface of the device: settable auxiliary entities, buttons and the
// settable members of composite entities.
func (b *Bridge) commandHandlers(ctx context.Context, bind *binding) map[string]func([]byte) {
	handlers := make(map[string]func([]byte))

	propertyHandler := func(p *descriptor.Property) func([]byte) {
		return func(payload []byte) {
			value, err := entity.ParsePropertyCommand(p, string(payload))
			if err != nil {
				logging.Warn("Rejected command payload",
					zap.String("device_id", bind.meta.DeviceID),
					zap.String("property", p.ID),
					zap.Error(err))
				return
			}
			logging.LogCommand(bind.meta.DeviceID, "set", p.ID, value)
			if err := bind.device.SetProperty(ctx, p.ID, value); err != nil {
				logging.Error("Property write failed",
					zap.String("device_id", bind.meta.DeviceID),
					zap.String("property", p.ID),
					zap.Error(err))
				return
			}
			bind.coord.ForceRefresh()
		}
	}

	for _, e := range bind.entities {
		switch {
		case e.Action != nil:
			action := e.Action
			handlers[commandTopic(bind.meta.DeviceID, e.EntityID)] = func([]byte) {
				logging.LogCommand(bind.meta.DeviceID, "action", action.ID, nil)
				if err := bind.device.CallAction(ctx, action.ID); err != nil {
					logging.Error("Action failed",
						zap.String("device_id", bind.meta.DeviceID),
						zap.String("action", action.ID),
						zap.Error(err))
				}
			}
		case e.Property != nil && e.Property.Settable():
			handlers[commandTopic(bind.meta.DeviceID, e.EntityID)] = propertyHandler(e.Property)
		case e.Members != nil:
			for _, member := range e.Members {
				if !member.Settable() {
					continue
				}
				handlers[commandTopic(bind.meta.DeviceID, member.ID)] = propertyHandler(member)
			}
			if ct := e.Members["color_temperature"]; ct != nil && ct.Settable() {
				handlers[commandTopic(bind.meta.DeviceID, colorTempMiredsKey)] = b.miredsHandler(ctx, bind, ct)
			}
		}
	}

	return handlers
}

// miredsHandler converts an incoming mireds payload to the device's
// kelvin scale before writing.
func (b *Bridge) miredsHandler(ctx context.Context, bind *binding, ct *descriptor.Property) func([]byte) {
	return func(payload []byte) {
		mireds, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if err != nil || mireds <= 0 {
			logging.Warn("Rejected color temperature payload",
				zap.String("device_id", bind.meta.DeviceID),
				zap.ByteString("payload", payload))
			return
		}
		kelvin := int64(math.Round(1e6 / mireds))
		logging.LogCommand(bind.meta.DeviceID, "set", ct.ID, kelvin)
		if err := bind.device.SetProperty(ctx, ct.ID, kelvin); err != nil {
			logging.Error("Color temperature write failed",
				zap.String("device_id", bind.meta.DeviceID),
				zap.Error(err))
			return
		}
		bind.coord.ForceRefresh()
	}
}

// publishUpdate pushes availability and the state document after a poll.
func (b *Bridge) publishUpdate(bind *binding, update coordinator.Update) {
	avail := payloadOffline
	if update.Available {
		avail = payloadOnline
	}
	if err := b.client.publish(availabilityTopic(bind.meta.DeviceID), []byte(avail), true); err != nil {
		logging.Error("Failed to publish availability",
			zap.String("device_id", bind.meta.DeviceID),
			zap.Error(err))
	}

	if update.Status == nil {
		return
	}

	doc := stateDocument(bind.entities, update.Status)
	payload, err := json.Marshal(doc)
	if err != nil {
		logging.Error("Failed to marshal state document",
			zap.String("device_id", bind.meta.DeviceID),
			zap.Error(err))
		return
	}
	if err := b.client.publish(stateTopic(bind.meta.DeviceID), payload, false); err != nil {
		logging.Error("Failed to publish state",
			zap.String("device_id", bind.meta.DeviceID),
			zap.Error(err))
	}

	if vac := findVacuum(bind.entities); vac != nil {
		b.publishVacuumState(bind, vac, update.Status)
	}
}

// stateDocument renders one status snapshot into the flat JSON document
// entity value templates read from.
func stateDocument(entities []*entity.Entity, status miio.Status) map[string]string {
	doc := make(map[string]string)
	for _, e := range entities {
		if e.Property != nil {
			if payload, ok := e.StatePayload(status); ok {
				doc[e.EntityID] = payload
			}
			continue
		}
		for _, member := range e.Members {
			if v, ok := status[member.ID]; ok {
				if payload, ok := entity.FormatPropertyValue(member, v); ok {
					doc[member.ID] = payload
				}
			}
		}
		if ct := e.Members["color_temperature"]; ct != nil {
			if kelvin, ok := status.Float(ct.ID); ok && kelvin > 0 {
				doc[colorTempMiredsKey] = strconv.FormatInt(int64(math.Round(1e6/kelvin)), 10)
			}
		}
	}
	return doc
}

func findVacuum(entities []*entity.Entity) *entity.Entity {
	for _, e := range entities {
		if e.Platform == entity.PlatformVacuum {
			return e
		}
	}
	return nil
}

// publishVacuumState renders the vacuum composite's JSON state payload.
func (b *Bridge) publishVacuumState(bind *binding, vac *entity.Entity, status miio.Status) {
	doc := make(map[string]any)

	if st := vac.Members["status"]; st != nil {
		if v, ok := status[st.ID]; ok {
			if name, ok := entity.FormatPropertyValue(st, v); ok {
				doc["state"] = vacuumState(name)
			}
		}
	}
	if battery := vac.Members["battery_level"]; battery != nil {
		if v, ok := status.Float(battery.ID); ok {
			doc["battery_level"] = int(v)
		}
	}
	if len(doc) == 0 {
		return
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := b.client.publish(vacuumStateTopic(bind.meta.DeviceID), payload, false); err != nil {
		logging.Error("Failed to publish vacuum state",
			zap.String("device_id", bind.meta.DeviceID),
			zap.Error(err))
	}
}

// vacuumState maps a model's status choice name onto the fixed state
// vocabulary Home Assistant vacuums use.
func vacuumState(choiceName string) string {
	name := strings.ToLower(choiceName)
	switch {
	case strings.Contains(name, "return") || strings.Contains(name, "back"):
		return "returning"
	case strings.Contains(name, "clean") || strings.Contains(name, "sweep") || strings.Contains(name, "mop"):
		return "cleaning"
	case strings.Contains(name, "charg") || strings.Contains(name, "dock"):
		return "docked"
	case strings.Contains(name, "pause"):
		return "paused"
	case strings.Contains(name, "error") || strings.Contains(name, "fault"):
		return "error"
	default:
		return "idle"
	}
}

// RemoveDevice tears a device down: command subscriptions are dropped,
// the discovery configs are cleared with empty retained payloads and the
// device is marked offline.
func (b *Bridge) RemoveDevice(deviceID string) error {
	b.mu.Lock()
	bind, ok := b.devices[deviceID]
	if ok {
		delete(b.devices, deviceID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s is not bridged", deviceID)
	}

	bind.cancel()
	for _, unsub := range bind.unsubs {
		unsub()
	}

	for _, e := range bind.entities {
		topic := configTopic(b.prefix, e.Platform, deviceID, e.EntityID)
		if err := b.client.publish(topic, nil, true); err != nil {
			return fmt.Errorf("failed to clear discovery config: %w", err)
		}
	}
	return b.client.publish(availabilityTopic(deviceID), []byte(payloadOffline), true)
}

// Close marks everything offline and disconnects from the broker.
func (b *Bridge) Close() {
	b.mu.Lock()
	bindings := make([]*binding, 0, len(b.devices))
	for _, bind := range b.devices {
		bindings = append(bindings, bind)
	}
	b.devices = make(map[string]*binding)
	b.mu.Unlock()

	for _, bind := range bindings {
		bind.cancel()
		for _, unsub := range bind.unsubs {
			unsub()
		}
		_ = b.client.publish(availabilityTopic(bind.meta.DeviceID), []byte(payloadOffline), true)
	}
	_ = b.client.publish(BridgeAvailabilityTopic, []byte(payloadOffline), true)
	b.client.close()
}
