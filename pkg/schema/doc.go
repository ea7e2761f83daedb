// Package schema loads message definitions and builds typed messages.
//
// A definition file lists enum constants and messages. Each message has a
// numeric ID and an ordered list of typed fields:
//
//	messages:
//	  - name: PARAM_REQUEST_LIST
//	    id: 21
//	    fields:
//	      - { name: target_system, type: uint8 }
//	      - { name: target_component, type: uint8 }
//
// Supported field types are uint8, int8, uint16, int16, uint32, int32,
// float32, string (with len) and fixed arrays such as uint16[10].
//
// # Building Messages
//
//	set, _ := schema.Default()
//	msg, _ := set.Create("PARAM_REQUEST_LIST")
//	msg.SetFromMap(map[string]any{"target_system": 1, "target_component": 1})
//
// Values are coerced to the declared field type and range checked, so
// callers can pass plain ints and float64s.
//
// # Wire Mapping
//
// Message.Packet turns a message into a wire.Packet using the field position
// (starting at 1) as key. MessageSet.Decode does the reverse.
package schema
