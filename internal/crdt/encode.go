package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
)

var registerFieldTypesOnce sync.Once

// gobRegisterFieldTypes registers the concrete types that can appear in
// Op.Value's interface{} slot so gob can encode/decode them (spec §3:
// "arbitrary string/number/bool fields").
func gobRegisterFieldTypes() {
	registerFieldTypesOnce.Do(func() {
		gob.Register(string(""))
		gob.Register(float64(0))
		gob.Register(false)
	})
}

// encodeOps serializes a slice of Ops to bytes. This is the payload
// carried by SyncStep2/Update frames, and the body of a full snapshot
// when sv is empty.
func encodeOps(ops []Op) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ops); err != nil {
		return nil, fmt.Errorf("crdt: encode ops: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeOps parses bytes produced by encodeOps.
func decodeOps(data []byte) ([]Op, error) {
	var ops []Op
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return ops, nil
}

// awarenessWire is the over-the-wire shape of an awareness delta or
// full-state reply.
type awarenessWire struct {
	Present []awarenessEntryWire
	Removed []string
}

type awarenessEntryWire struct {
	ClientID string
	Data     []byte
}

func encodeAwareness(w awarenessWire) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, fmt.Errorf("crdt: encode awareness: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeAwareness(data []byte) (awarenessWire, error) {
	var w awarenessWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return awarenessWire{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return w, nil
}
