package manager

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nerrad567/miot-core/internal/miot/engine"
)

// commandTimeout bounds a single MQTT-initiated write or action.
const commandTimeout = 10 * time.Second

// commandTopicParts is the segment count of miotcore/command/{did}.
const commandTopicParts = 3

// commandMessage is the inbound command payload. Exactly one of
// Properties or Action should be set.
type commandMessage struct {
	Properties map[string]any `json:"properties,omitempty"`
	Action     string         `json:"action,omitempty"`
	Args       []any          `json:"args,omitempty"`
}

// statePayload is the retained device state message.
type statePayload struct {
	DID          string         `json:"did"`
	Availability string         `json:"availability"`
	Values       map[string]any `json:"values"`
	Time         time.Time      `json:"time"`
}

// diagnosticPayload is the one-shot diagnostic message.
type diagnosticPayload struct {
	DID     string    `json:"did"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// handleCommand routes an inbound MQTT command to the device session.
// Errors are logged, never returned: a bad command must not tear down
// the broker subscription.
func (m *Manager) handleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts {
		m.log.Warn("malformed command topic", "topic", topic)
		return nil
	}
	did := parts[2]

	sess, err := m.Session(did)
	if err != nil {
		m.log.Warn("command for unknown device", "did", did)
		return nil
	}

	var cmd commandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.log.Warn("unparseable command", "did", did, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(m.ctx, commandTimeout)
	defer cancel()

	switch {
	case cmd.Action != "":
		if _, err := sess.CallAction(ctx, cmd.Action, cmd.Args); err != nil {
			m.log.Error("action failed", "did", did, "action", cmd.Action, "error", err)
			return nil
		}
		m.log.Info("action invoked", "did", did, "action", cmd.Action)

	case len(cmd.Properties) > 0:
		writes := make([]engine.Write, 0, len(cmd.Properties))
		for name, value := range cmd.Properties {
			writes = append(writes, engine.Write{Name: name, Value: value})
		}
		if err := sess.SetProperties(ctx, writes); err != nil {
			m.log.Error("write failed", "did", did, "error", err)
			return nil
		}
		m.log.Info("properties written", "did", did, "count", len(writes))

	default:
		m.log.Warn("empty command", "did", did)
	}
	return nil
}

// handleEvent fans one session event out to MQTT and InfluxDB.
func (m *Manager) handleEvent(md *managedDevice, ev engine.Event) {
	switch ev.Type {
	case engine.EventState:
		m.publishState(ev.Snapshot)
		m.writeMetrics(ev.Snapshot)
		m.publishAvailability(md, ev.Snapshot.Availability)

	case engine.EventOffline:
		m.publishAvailability(md, engine.Unavailable)

	case engine.EventDiagnostic:
		m.publishDiagnostic(md.cfg.DID, ev.Message)
	}
}

// publishState publishes a retained snapshot to the device state topic.
func (m *Manager) publishState(snap engine.Snapshot) {
	if m.mqtt == nil {
		return
	}

	payload, err := json.Marshal(statePayload{
		DID:          snap.DID,
		Availability: snap.Availability.String(),
		Values:       snap.Values,
		Time:         snap.Time,
	})
	if err != nil {
		m.log.Error("failed to marshal state", "did", snap.DID, "error", err)
		return
	}

	if err := m.mqtt.Publish(m.topics.DeviceState(snap.DID), payload, 1, true); err != nil {
		m.log.Error("failed to publish state", "did", snap.DID, "error", err)
	}
}

// publishAvailability publishes an availability transition exactly once.
func (m *Manager) publishAvailability(md *managedDevice, avail engine.Availability) {
	if avail == engine.AvailabilityUnknown {
		return
	}

	md.availMu.Lock()
	changed := md.lastAvail != avail
	md.lastAvail = avail
	md.availMu.Unlock()
	if !changed {
		return
	}

	online := avail == engine.Available

	if m.mqtt != nil {
		topic := m.topics.DeviceAvailability(md.cfg.DID)
		if err := m.mqtt.Publish(topic, []byte(avail.String()), 1, true); err != nil {
			m.log.Error("failed to publish availability", "did", md.cfg.DID, "error", err)
		}
	}

	if m.metrics != nil {
		m.metrics.WriteAvailability(md.cfg.DID, online)
	}

	m.log.Info("device availability changed", "did", md.cfg.DID, "availability", avail.String())
}

// publishDiagnostic publishes a one-shot diagnostic hint.
func (m *Manager) publishDiagnostic(did, message string) {
	m.log.Warn("device diagnostic", "did", did, "message", message)

	if m.mqtt == nil {
		return
	}

	payload, err := json.Marshal(diagnosticPayload{
		DID:     did,
		Message: message,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		m.log.Error("failed to marshal diagnostic", "did", did, "error", err)
		return
	}

	if err := m.mqtt.Publish(m.topics.DeviceDiagnostic(did), payload, 1, false); err != nil {
		m.log.Error("failed to publish diagnostic", "did", did, "error", err)
	}
}

// writeMetrics records numeric snapshot values as telemetry points.
// Booleans and enum descriptions are skipped; availability is tracked
// separately.
func (m *Manager) writeMetrics(snap engine.Snapshot) {
	if m.metrics == nil {
		return
	}

	for name, value := range snap.Values {
		switch v := value.(type) {
		case float64:
			m.metrics.WriteDeviceMetric(snap.DID, name, v)
		case int64:
			m.metrics.WriteDeviceMetric(snap.DID, name, float64(v))
		case int:
			m.metrics.WriteDeviceMetric(snap.DID, name, float64(v))
		}
	}
}
