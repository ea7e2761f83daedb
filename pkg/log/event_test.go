package log

import "testing"

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"direction in", DirectionIn.String(), "IN"},
		{"direction out", DirectionOut.String(), "OUT"},
		{"direction unknown", Direction(9).String(), "UNKNOWN"},
		{"layer transport", LayerTransport.String(), "TRANSPORT"},
		{"layer wire", LayerWire.String(), "WIRE"},
		{"layer lifecycle", LayerLifecycle.String(), "LIFECYCLE"},
		{"layer unknown", Layer(9).String(), "UNKNOWN"},
		{"category message", CategoryMessage.String(), "MESSAGE"},
		{"category control", CategoryControl.String(), "CONTROL"},
		{"category state", CategoryState.String(), "STATE"},
		{"category error", CategoryError.String(), "ERROR"},
		{"category unknown", Category(9).String(), "UNKNOWN"},
		{"role device", RoleDevice.String(), "DEVICE"},
		{"role gcs", RoleGroundStation.String(), "GCS"},
		{"role unknown", Role(9).String(), "UNKNOWN"},
		{"entity connection", StateEntityConnection.String(), "CONNECTION"},
		{"entity link", StateEntityLink.String(), "LINK"},
		{"entity subscription", StateEntitySubscription.String(), "SUBSCRIPTION"},
		{"entity unknown", StateEntity(9).String(), "UNKNOWN"},
		{"ping", ControlMsgPing.String(), "PING"},
		{"pong", ControlMsgPong.String(), "PONG"},
		{"close", ControlMsgClose.String(), "CLOSE"},
		{"control unknown", ControlMsgType(9).String(), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
