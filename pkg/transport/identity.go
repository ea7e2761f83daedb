package transport

import (
	"fmt"

	"github.com/vbat-sim/vbat-go/pkg/schema"
)

// HeartbeatMessage is the schema message exchanged during the handshake
// and resent periodically on a live link.
const HeartbeatMessage = "HEARTBEAT"

// Identity is the system/component address this end stamps on packets.
type Identity struct {
	SystemID    uint8 `yaml:"system_id"`
	ComponentID uint8 `yaml:"component_id"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%d/%d", i.SystemID, i.ComponentID)
}

// Peer describes the remote end as announced by its heartbeat.
type Peer struct {
	Identity
	Type      uint8
	Autopilot uint8
}

// HeartbeatSpec names the enum values a heartbeat carries.
type HeartbeatSpec struct {
	Type      string
	Autopilot string
	Status    string
}

// DeviceHeartbeat is the heartbeat of the simulated battery.
var DeviceHeartbeat = HeartbeatSpec{
	Type:      "MAV_TYPE_BATTERY",
	Autopilot: "MAV_AUTOPILOT_INVALID",
	Status:    "MAV_STATE_ACTIVE",
}

// GroundStationHeartbeat is the heartbeat of a ground station.
var GroundStationHeartbeat = HeartbeatSpec{
	Type:      "MAV_TYPE_GCS",
	Autopilot: "MAV_AUTOPILOT_INVALID",
	Status:    "MAV_STATE_ACTIVE",
}

// NewHeartbeat builds a HEARTBEAT message, resolving enum names through set.
func NewHeartbeat(set *schema.MessageSet, spec HeartbeatSpec) (*schema.Message, error) {
	fields := map[string]any{"mavlink_version": 3}
	for field, name := range map[string]string{
		"type":          spec.Type,
		"autopilot":     spec.Autopilot,
		"system_status": spec.Status,
	} {
		v, err := set.Enum(name)
		if err != nil {
			return nil, fmt.Errorf("heartbeat %s: %w", field, err)
		}
		fields[field] = v
	}

	msg, err := set.Create(HeartbeatMessage)
	if err != nil {
		return nil, err
	}
	return msg.SetFromMap(fields)
}

func peerFromHeartbeat(msg *schema.Message, systemID, componentID uint8) Peer {
	p := Peer{Identity: Identity{SystemID: systemID, ComponentID: componentID}}
	if v, err := msg.Int("type"); err == nil {
		p.Type = uint8(v)
	}
	if v, err := msg.Int("autopilot"); err == nil {
		p.Autopilot = uint8(v)
	}
	return p
}
