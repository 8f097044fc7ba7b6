// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import "github.com/golang/protobuf/proto"

// Message is a structured payload message.
type Message = proto.Message

// Structured messages mirror the device schema (controller.proto).
// Scalar fields of the group messages are pointers so presence survives
// serialization. The cbor tags make the same structs usable with the CBOR
// codec as integer-keyed maps.

// ConfigMessage is the wire form of Config.
type ConfigMessage struct {
	MaxX     *float32 `protobuf:"fixed32,1,opt,name=max_x" cbor:"1,keyasint,omitempty" json:"max_x,omitempty"`
	MaxV     *float32 `protobuf:"fixed32,2,opt,name=max_v" cbor:"2,keyasint,omitempty" json:"max_v,omitempty"`
	MaxA     *float32 `protobuf:"fixed32,3,opt,name=max_a" cbor:"3,keyasint,omitempty" json:"max_a,omitempty"`
	HwMaxX   *float32 `protobuf:"fixed32,4,opt,name=hw_max_x" cbor:"4,keyasint,omitempty" json:"hw_max_x,omitempty"`
	HwMaxV   *float32 `protobuf:"fixed32,5,opt,name=hw_max_v" cbor:"5,keyasint,omitempty" json:"hw_max_v,omitempty"`
	HwMaxA   *float32 `protobuf:"fixed32,6,opt,name=hw_max_a" cbor:"6,keyasint,omitempty" json:"hw_max_a,omitempty"`
	ClampX   *bool    `protobuf:"varint,7,opt,name=clamp_x" cbor:"7,keyasint,omitempty" json:"clamp_x,omitempty"`
	ClampV   *bool    `protobuf:"varint,8,opt,name=clamp_v" cbor:"8,keyasint,omitempty" json:"clamp_v,omitempty"`
	ClampA   *bool    `protobuf:"varint,9,opt,name=clamp_a" cbor:"9,keyasint,omitempty" json:"clamp_a,omitempty"`
	DebugLed *bool    `protobuf:"varint,10,opt,name=debug_led" cbor:"10,keyasint,omitempty" json:"debug_led,omitempty"`
}

// Reset implements proto.Message.
func (m *ConfigMessage) Reset() { *m = ConfigMessage{} }

// String implements proto.Message.
func (m *ConfigMessage) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*ConfigMessage) ProtoMessage() {}

// StateMessage is the wire form of State.
type StateMessage struct {
	CurrX   *float32 `protobuf:"fixed32,1,opt,name=curr_x" cbor:"1,keyasint,omitempty" json:"curr_x,omitempty"`
	CurrV   *float32 `protobuf:"fixed32,2,opt,name=curr_v" cbor:"2,keyasint,omitempty" json:"curr_v,omitempty"`
	CurrA   *float32 `protobuf:"fixed32,3,opt,name=curr_a" cbor:"3,keyasint,omitempty" json:"curr_a,omitempty"`
	PoleX   *float32 `protobuf:"fixed32,4,opt,name=pole_x" cbor:"4,keyasint,omitempty" json:"pole_x,omitempty"`
	PoleV   *float32 `protobuf:"fixed32,5,opt,name=pole_v" cbor:"5,keyasint,omitempty" json:"pole_v,omitempty"`
	Errcode *int32   `protobuf:"varint,6,opt,name=errcode" cbor:"6,keyasint,omitempty" json:"errcode,omitempty"`
	ImuA    *float32 `protobuf:"fixed32,7,opt,name=imu_a" cbor:"7,keyasint,omitempty" json:"imu_a,omitempty"`
	MotorX  *float32 `protobuf:"fixed32,8,opt,name=motor_x" cbor:"8,keyasint,omitempty" json:"motor_x,omitempty"`
	MotorV  *float32 `protobuf:"fixed32,9,opt,name=motor_v" cbor:"9,keyasint,omitempty" json:"motor_v,omitempty"`
}

// Reset implements proto.Message.
func (m *StateMessage) Reset() { *m = StateMessage{} }

// String implements proto.Message.
func (m *StateMessage) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*StateMessage) ProtoMessage() {}

// TargetMessage is the wire form of Target.
type TargetMessage struct {
	TrgtX *float32 `protobuf:"fixed32,1,opt,name=trgt_x" cbor:"1,keyasint,omitempty" json:"trgt_x,omitempty"`
	TrgtV *float32 `protobuf:"fixed32,2,opt,name=trgt_v" cbor:"2,keyasint,omitempty" json:"trgt_v,omitempty"`
	TrgtA *float32 `protobuf:"fixed32,3,opt,name=trgt_a" cbor:"3,keyasint,omitempty" json:"trgt_a,omitempty"`
}

// Reset implements proto.Message.
func (m *TargetMessage) Reset() { *m = TargetMessage{} }

// String implements proto.Message.
func (m *TargetMessage) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*TargetMessage) ProtoMessage() {}

// RequestMessage is the envelope sent by the host in the stream dialect.
// At most one of Config, State and Target is set.
type RequestMessage struct {
	Type   int32          `protobuf:"varint,1,opt,name=type,proto3" cbor:"1,keyasint,omitempty" json:"type,omitempty"`
	Config *ConfigMessage `protobuf:"bytes,2,opt,name=config" cbor:"2,keyasint,omitempty" json:"config,omitempty"`
	State  *StateMessage  `protobuf:"bytes,3,opt,name=state" cbor:"3,keyasint,omitempty" json:"state,omitempty"`
	Target *TargetMessage `protobuf:"bytes,4,opt,name=target" cbor:"4,keyasint,omitempty" json:"target,omitempty"`
}

// Reset implements proto.Message.
func (m *RequestMessage) Reset() { *m = RequestMessage{} }

// String implements proto.Message.
func (m *RequestMessage) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*RequestMessage) ProtoMessage() {}

// ResponseMessage is the envelope sent by the device.
// At most one of Config, State and Target is set.
type ResponseMessage struct {
	Status  int32          `protobuf:"varint,1,opt,name=status,proto3" cbor:"1,keyasint,omitempty" json:"status,omitempty"`
	Message string         `protobuf:"bytes,2,opt,name=message,proto3" cbor:"2,keyasint,omitempty" json:"message,omitempty"`
	Config  *ConfigMessage `protobuf:"bytes,3,opt,name=config" cbor:"3,keyasint,omitempty" json:"config,omitempty"`
	State   *StateMessage  `protobuf:"bytes,4,opt,name=state" cbor:"4,keyasint,omitempty" json:"state,omitempty"`
	Target  *TargetMessage `protobuf:"bytes,5,opt,name=target" cbor:"5,keyasint,omitempty" json:"target,omitempty"`
}

// Reset implements proto.Message.
func (m *ResponseMessage) Reset() { *m = ResponseMessage{} }

// String implements proto.Message.
func (m *ResponseMessage) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*ResponseMessage) ProtoMessage() {}

// ResponseStatus returns the typed status
func (m *ResponseMessage) ResponseStatus() ResponseStatus {
	return ResponseStatus(m.Status)
}

// Conversions between groups and messages. Absent fields stay absent.

func f32(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

func f64(v *float32) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	b := *v
	return &b
}

// Message converts c to its wire form
func (c Config) Message() *ConfigMessage {
	return &ConfigMessage{
		MaxX:     f32(c.MaxPosition),
		MaxV:     f32(c.MaxVelocity),
		MaxA:     f32(c.MaxAcceleration),
		HwMaxX:   f32(c.HardwareMaxPosition),
		HwMaxV:   f32(c.HardwareMaxVelocity),
		HwMaxA:   f32(c.HardwareMaxAcceleration),
		ClampX:   cloneBool(c.ClampPosition),
		ClampV:   cloneBool(c.ClampVelocity),
		ClampA:   cloneBool(c.ClampAcceleration),
		DebugLed: cloneBool(c.DebugLED),
	}
}

// Group converts the message to a Config
func (m *ConfigMessage) Group() Config {
	if m == nil {
		return Config{}
	}
	return Config{
		MaxPosition:             f64(m.MaxX),
		MaxVelocity:             f64(m.MaxV),
		MaxAcceleration:         f64(m.MaxA),
		HardwareMaxPosition:     f64(m.HwMaxX),
		HardwareMaxVelocity:     f64(m.HwMaxV),
		HardwareMaxAcceleration: f64(m.HwMaxA),
		ClampPosition:           cloneBool(m.ClampX),
		ClampVelocity:           cloneBool(m.ClampV),
		ClampAcceleration:       cloneBool(m.ClampA),
		DebugLED:                cloneBool(m.DebugLed),
	}
}

// Message converts s to its wire form
func (s State) Message() *StateMessage {
	m := &StateMessage{
		CurrX:  f32(s.Position),
		CurrV:  f32(s.Velocity),
		CurrA:  f32(s.Acceleration),
		PoleX:  f32(s.PoleAngle),
		PoleV:  f32(s.PoleAngularVelocity),
		ImuA:   f32(s.AccelerometerValue),
		MotorX: f32(s.MotorAngle),
		MotorV: f32(s.MotorVelocity),
	}
	if s.ErrorCode != nil {
		m.Errcode = proto.Int32(int32(*s.ErrorCode))
	}
	return m
}

// Group converts the message to a State
func (m *StateMessage) Group() State {
	if m == nil {
		return State{}
	}
	s := State{
		Position:            f64(m.CurrX),
		Velocity:            f64(m.CurrV),
		Acceleration:        f64(m.CurrA),
		PoleAngle:           f64(m.PoleX),
		PoleAngularVelocity: f64(m.PoleV),
		AccelerometerValue:  f64(m.ImuA),
		MotorAngle:          f64(m.MotorX),
		MotorVelocity:       f64(m.MotorV),
	}
	if m.Errcode != nil {
		s.ErrorCode = Ptr(ErrorCode(*m.Errcode))
	}
	return s
}

// Message converts t to its wire form
func (t Target) Message() *TargetMessage {
	return &TargetMessage{
		TrgtX: f32(t.Position),
		TrgtV: f32(t.Velocity),
		TrgtA: f32(t.Acceleration),
	}
}

// Group converts the message to a Target
func (m *TargetMessage) Group() Target {
	if m == nil {
		return Target{}
	}
	return Target{
		Position:     f64(m.TrgtX),
		Velocity:     f64(m.TrgtV),
		Acceleration: f64(m.TrgtA),
	}
}
