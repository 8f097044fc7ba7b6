// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/protobuf/proto"
)

// MessageCodec serializes structured messages.
// One codec is selected per deployment; both sides must agree.
type MessageCodec interface {
	Name() string
	Marshal(msg Message) ([]byte, error)
	Unmarshal(data []byte, msg Message) error
}

// Available message codecs
var (
	Protobuf MessageCodec = protobufCodec{}
	CBOR     MessageCodec = newCBORCodec()
)

// CodecByName returns the codec registered under name
func CodecByName(name string) (MessageCodec, error) {
	switch name {
	case Protobuf.Name():
		return Protobuf, nil
	case CBOR.Name():
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown message encoding %q (use protobuf or cbor)", name)
	}
}

type protobufCodec struct{}

func (protobufCodec) Name() string { return "protobuf" }

func (protobufCodec) Marshal(msg Message) ([]byte, error) {
	return proto.Marshal(msg)
}

func (protobufCodec) Unmarshal(data []byte, msg Message) error {
	return proto.Unmarshal(data, msg)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor encoder options: %v", err))
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor decoder options: %v", err))
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(msg Message) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c cborCodec) Unmarshal(data []byte, msg Message) error {
	msg.Reset()
	return c.dec.Unmarshal(data, msg)
}
