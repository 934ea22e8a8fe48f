// Package wire implements the cluster wire frame used by the fan-out
// coordinator (spec §6 "Cluster wire frame"): marker, version, request
// ID, db, handler name, reserved, followed by an opaque payload.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/vktsdb/tsengine/cmn/cos"
)

// Marker is the frame's magic number, little-endian per spec §6.
const Marker uint32 = 0x00BADCAB

// MessageType distinguishes request/response/error frames (spec §6
// "Message types").
type MessageType uint8

const (
	Request  MessageType = 0x01
	Response MessageType = 0x02
	ErrorMsg MessageType = 0x03
)

// Frame is { marker, version, request_id, db, handler_name, reserved }
// plus payload.
type Frame struct {
	Version     uint64
	Type        MessageType
	RequestID   uint64
	DB          int64
	HandlerName string
	Reserved    uint64
	Payload     []byte
}

var errShortFrame = errors.New("wire: short frame")

// Encode serializes f into a self-delimiting byte stream.
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(48 + len(f.HandlerName) + len(f.Payload))

	var markerBuf [4]byte
	binary.LittleEndian.PutUint32(markerBuf[:], Marker)
	buf.Write(markerBuf[:])

	buf.WriteByte(byte(f.Type))
	_ = cos.PutUvarint(&buf, f.Version)
	_ = cos.PutUvarint(&buf, f.RequestID)
	_ = cos.PutSvarint(&buf, f.DB)
	_ = cos.PutLengthPrefixed(&buf, []byte(f.HandlerName))
	_ = cos.PutUvarint(&buf, f.Reserved)
	buf.Write(f.Payload)

	return buf.Bytes()
}

// Decode parses a single Frame from b. Because the payload is
// opaque/unlength-prefixed, it consumes the remainder of b.
func Decode(b []byte) (Frame, error) {
	r := bytes.NewReader(b)

	var markerBuf [4]byte
	if _, err := io.ReadFull(r, markerBuf[:]); err != nil {
		return Frame{}, errShortFrame
	}
	if binary.LittleEndian.Uint32(markerBuf[:]) != Marker {
		return Frame{}, errors.New("wire: bad marker")
	}

	typ, err := r.ReadByte()
	if err != nil {
		return Frame{}, errShortFrame
	}
	f := Frame{Type: MessageType(typ)}

	if f.Version, err = cos.ReadUvarint(r); err != nil {
		return Frame{}, errShortFrame
	}
	if f.RequestID, err = cos.ReadUvarint(r); err != nil {
		return Frame{}, errShortFrame
	}
	if f.DB, err = cos.ReadSvarint(r); err != nil {
		return Frame{}, errShortFrame
	}
	handler, err := readLengthPrefixed(r)
	if err != nil {
		return Frame{}, err
	}
	f.HandlerName = string(handler)
	if f.Reserved, err = cos.ReadUvarint(r); err != nil {
		return Frame{}, errShortFrame
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return Frame{}, errShortFrame
	}
	f.Payload = payload
	return f, nil
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := cos.ReadUvarint(r)
	if err != nil {
		return nil, errShortFrame
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errShortFrame
	}
	return buf, nil
}

// ErrorPayload is the wire body of a MessageType ErrorMsg frame: { kind:
// u8, message: length-prefixed bytes }.
type ErrorPayload struct {
	Kind    uint8
	Message string
}

func EncodeError(p ErrorPayload) []byte {
	var buf bytes.Buffer
	buf.WriteByte(p.Kind)
	_ = cos.PutLengthPrefixed(&buf, []byte(p.Message))
	return buf.Bytes()
}

func DecodeError(b []byte) (ErrorPayload, error) {
	if len(b) < 1 {
		return ErrorPayload{}, errShortFrame
	}
	r := bytes.NewReader(b)
	kind, _ := r.ReadByte()
	msg, err := readLengthPrefixed(r)
	if err != nil {
		return ErrorPayload{}, err
	}
	return ErrorPayload{Kind: kind, Message: string(msg)}, nil
}
