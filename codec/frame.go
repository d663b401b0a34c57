package codec

import (
	"errors"
	"fmt"
)

// DefaultMaxWrite is the largest single write the glasses accept
const DefaultMaxWrite = 180

// MaxChunks is the largest chunk count a one-byte total field can carry
const MaxChunks = 255

var (
	// ErrPayloadTooLarge is returned when a payload needs more than MaxChunks frames
	ErrPayloadTooLarge = errors.New("codec: payload too large")
	// ErrEmptyPayload is returned for payload kinds that cannot be empty
	ErrEmptyPayload = errors.New("codec: empty payload")
	// ErrMalformedChunk is returned by ParseChunk for frames that are not chunked payloads
	ErrMalformedChunk = errors.New("codec: malformed chunk")
)

// Kind selects the chunked payload family
type Kind byte

const (
	KindText         Kind = OpText
	KindNotification Kind = OpNotification
	KindWhitelist    Kind = OpWhitelist
)

func (k Kind) String() string {
	return OpcodeName(byte(k))
}

// Header sizes per kind. Text carries screen status, two new-char-position
// bytes, current page and total pages after the common 4-byte prefix.
const (
	chunkPrefixLen = 4
	textHeaderLen  = chunkPrefixLen + 5
)

// HeaderLen returns the per-chunk header length for a kind
func HeaderLen(k Kind) int {
	if k == KindText {
		return textHeaderLen
	}
	return chunkPrefixLen
}

// Encoder splits logical payloads into wire frames no longer than MaxWrite
type Encoder struct {
	MaxWrite int
}

// NewEncoder creates an encoder; a non-positive maxWrite selects DefaultMaxWrite
func NewEncoder(maxWrite int) *Encoder {
	if maxWrite <= 0 {
		maxWrite = DefaultMaxWrite
	}
	return &Encoder{MaxWrite: maxWrite}
}

func (e *Encoder) maxWrite() int {
	if e == nil || e.MaxWrite <= 0 {
		return DefaultMaxWrite
	}
	return e.MaxWrite
}

// ChunkCapacity returns how many payload bytes fit in one frame of kind k
func (e *Encoder) ChunkCapacity(k Kind) int {
	return e.maxWrite() - HeaderLen(k)
}

// Encode chunks payload under the given sequence number. Text payloads are
// framed as page 0 of 1.
func (e *Encoder) Encode(kind Kind, seq byte, payload []byte) ([][]byte, error) {
	switch kind {
	case KindText:
		return e.EncodeText(seq, 0, 1, payload)
	case KindNotification, KindWhitelist:
		return e.chunk(byte(kind), seq, nil, payload)
	}
	return nil, fmt.Errorf("codec: unsupported kind 0x%02X", byte(kind))
}

// EncodeText chunks a rendered text page
func (e *Encoder) EncodeText(seq, page, pages byte, payload []byte) ([][]byte, error) {
	flags := []byte{TextScreenStatus, 0x00, 0x00, page, pages}
	return e.chunk(OpText, seq, flags, payload)
}

func (e *Encoder) chunk(op, seq byte, flags []byte, payload []byte) ([][]byte, error) {
	headerLen := chunkPrefixLen + len(flags)
	capacity := e.maxWrite() - headerLen
	if capacity <= 0 {
		return nil, fmt.Errorf("codec: max write %d too small for %s header", e.maxWrite(), OpcodeName(op))
	}

	total := (len(payload) + capacity - 1) / capacity
	if total == 0 {
		// An empty payload still produces one header-only frame
		total = 1
	}
	if total > MaxChunks {
		return nil, fmt.Errorf("%w: %s needs %d chunks of %d bytes", ErrPayloadTooLarge, OpcodeName(op), total, capacity)
	}

	frames := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * capacity
		end := start + capacity
		if end > len(payload) {
			end = len(payload)
		}
		data := payload[start:end]

		frame := make([]byte, 0, headerLen+len(data))
		frame = append(frame, op, seq, byte(total), byte(i))
		frame = append(frame, flags...)
		frame = append(frame, data...)
		frames = append(frames, frame)
	}
	return frames, nil
}

// Chunk is a parsed chunked frame
type Chunk struct {
	Kind  Kind
	Seq   byte
	Total byte
	Index byte
	Flags []byte
	Data  []byte
}

// ParseChunk splits a chunked frame into its header fields and data
func ParseChunk(frame []byte) (Chunk, error) {
	if len(frame) < chunkPrefixLen {
		return Chunk{}, fmt.Errorf("%w: %d bytes", ErrMalformedChunk, len(frame))
	}
	kind := Kind(frame[0])
	switch kind {
	case KindText, KindNotification, KindWhitelist:
	default:
		return Chunk{}, fmt.Errorf("%w: opcode 0x%02X is not chunked", ErrMalformedChunk, frame[0])
	}
	headerLen := HeaderLen(kind)
	if len(frame) < headerLen {
		return Chunk{}, fmt.Errorf("%w: %s frame of %d bytes", ErrMalformedChunk, kind, len(frame))
	}
	c := Chunk{
		Kind:  kind,
		Seq:   frame[1],
		Total: frame[2],
		Index: frame[3],
		Flags: frame[chunkPrefixLen:headerLen],
		Data:  frame[headerLen:],
	}
	if c.Total == 0 || c.Index >= c.Total {
		return Chunk{}, fmt.Errorf("%w: index %d of %d", ErrMalformedChunk, c.Index, c.Total)
	}
	return c, nil
}

type reassemblyKey struct {
	kind Kind
	seq  byte
}

type partial struct {
	total    byte
	received int
	parts    [][]byte
}

// Reassembler rebuilds chunked payloads. Chunks may arrive in any order;
// a payload is returned once every index has been seen.
type Reassembler struct {
	pending map[reassemblyKey]*partial
}

// NewReassembler creates an empty reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[reassemblyKey]*partial)}
}

// Add feeds one chunk. It returns the full payload and true when the chunk
// completes its sequence.
func (r *Reassembler) Add(c Chunk) ([]byte, bool, error) {
	key := reassemblyKey{kind: c.Kind, seq: c.Seq}
	p, ok := r.pending[key]
	if !ok {
		p = &partial{total: c.Total, parts: make([][]byte, c.Total)}
		r.pending[key] = p
	}
	if p.total != c.Total {
		delete(r.pending, key)
		return nil, false, fmt.Errorf("%w: total changed from %d to %d", ErrMalformedChunk, p.total, c.Total)
	}
	if p.parts[c.Index] == nil {
		p.received++
	}
	p.parts[c.Index] = append([]byte{}, c.Data...)

	if p.received < int(p.total) {
		return nil, false, nil
	}
	delete(r.pending, key)

	size := 0
	for _, part := range p.parts {
		size += len(part)
	}
	out := make([]byte, 0, size)
	for _, part := range p.parts {
		out = append(out, part...)
	}
	return out, true, nil
}

// Pending returns the number of incomplete payloads
func (r *Reassembler) Pending() int {
	return len(r.pending)
}
