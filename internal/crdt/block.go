package crdt

import "time"

// OpKind discriminates the kinds of mutation a transaction can append
// to a Replica's op log.
type OpKind uint8

const (
	OpCreateBlock OpKind = iota + 1
	OpRemoveBlock
	OpSetField
	OpInsertChild
	OpRemoveChild
)

// Op is one entry in a Replica's append-only op log. Every field/child
// mutation carries the (ClientID, Clock) pair that makes merging
// idempotent and commutative: re-applying an Op whose Clock has already
// been observed from ClientID is a no-op.
type Op struct {
	Kind      OpKind
	BlockID   string
	Flavor    string      // OpCreateBlock
	Field     string      // OpSetField
	Value     interface{} // OpSetField: string, float64, or bool
	ChildNode SeqNode     // OpInsertChild / OpRemoveChild
	ClientID  string
	Clock     uint64
}

func init() {
	// Concrete field value types that must round-trip through gob's
	// interface{} encoding (spec §3: "arbitrary string/number/bool
	// fields").
	gobRegisterFieldTypes()
}

// Block is a record inside a Workspace: a flavor tag, arbitrary
// string/number/bool fields, and an ordered children list. Blocks are
// created by workspace transactions and removed explicitly — they are
// never orphaned silently (spec §3).
type Block struct {
	id       string
	flavor   string
	fields   map[string]*FieldRegister[interface{}]
	children *Sequence
}

func newBlock(id, flavor string) *Block {
	return &Block{
		id:       id,
		flavor:   flavor,
		fields:   make(map[string]*FieldRegister[interface{}]),
		children: NewSequence(),
	}
}

// ID returns the block's id.
func (b *Block) ID() string { return b.id }

// Flavor returns the block's flavor tag.
func (b *Block) Flavor() string { return b.flavor }

// Get returns the current value of field, if it has ever been set.
func (b *Block) Get(field string) (interface{}, bool) {
	reg, ok := b.fields[field]
	if !ok {
		return nil, false
	}
	val, _, present := reg.Get()
	return val, present
}

// Fields returns a snapshot of every currently-set field.
func (b *Block) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(b.fields))
	for name, reg := range b.fields {
		if val, _, present := reg.Get(); present {
			out[name] = val
		}
	}
	return out
}

// Children returns the block's ordered, live children ids.
func (b *Block) Children() []string {
	return b.children.Values()
}

func (b *Block) setField(field string, value interface{}, clock uint64, clientID string) {
	reg, ok := b.fields[field]
	if !ok {
		reg = &FieldRegister[interface{}]{}
		b.fields[field] = reg
	}
	reg.Set(value, clock, clientID)
}

// updatedMeta is the per-block entry in a Workspace's "updated" map
// (spec §3's invariant (i): every key in updated also exists in blocks).
type updatedMeta struct {
	ClientID  string
	Clock     uint64
	Timestamp time.Time
}

func (m *updatedMeta) touch(clock uint64, clientID string, now time.Time) {
	if clock > m.Clock || (clock == m.Clock && clientID > m.ClientID) {
		m.ClientID = clientID
		m.Clock = clock
		m.Timestamp = now
	}
}
