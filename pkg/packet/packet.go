// Package packet defines the packet contract and the registry that maps
// packet types to stable 128-bit wire identifiers.
//
// An identifier is the MD5 digest of "PACKET [" + name + "]", where name is,
// in order of precedence: an explicit Named option, the packet's own
// PacketName (if it implements Namer), or the fully qualified Go type name.
// An optional prefix namespaces groups of packets registered together.
//
// Registries are built once at startup with a Builder and are read-only
// afterwards, so lookups need no locking.
//
// # Usage
//
//	b := packet.NewBuilder()
//	packet.Map[Hello](b)
//	packet.Map[Bye](b, packet.Named("bye"), packet.Prefixed("chat."))
//	reg := b.Build()
package packet

import (
	"crypto/md5"
	"errors"
	"reflect"

	"github.com/google/uuid"
)

// ErrUnknownPacket is returned when no registry recognizes a type or identifier.
var ErrUnknownPacket = errors.New("packet: unknown packet")

// Packet is a message that can be written to and read from a frame payload.
type Packet interface {
	Encode(w *Writer) error
	Decode(r *Reader) error
}

// Namer lets a packet type declare its wire name.
type Namer interface {
	PacketName() string
}

// ID is the stable wire identifier of a packet type.
type ID [16]byte

// IDFromName derives the identifier for a packet name.
func IDFromName(name string) ID {
	return ID(md5.Sum([]byte("PACKET [" + name + "]")))
}

// String formats the identifier in canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Factory constructs an empty packet ready for Decode.
type Factory func() Packet

// Provider resolves packets to identifiers and back.
type Provider interface {
	// LookupID returns the identifier registered for the dynamic type of p.
	LookupID(p Packet) (ID, bool)

	// New constructs an empty packet for id.
	New(id ID) (Packet, bool)

	// Name returns the registered name for id.
	Name(id ID) (string, bool)
}

// Providers consults a list of providers in priority order.
type Providers []Provider

func (ps Providers) LookupID(p Packet) (ID, bool) {
	for _, each := range ps {
		if id, ok := each.LookupID(p); ok {
			return id, true
		}
	}
	return ID{}, false
}

func (ps Providers) New(id ID) (Packet, bool) {
	for _, each := range ps {
		if p, ok := each.New(id); ok {
			return p, true
		}
	}
	return nil, false
}

func (ps Providers) Name(id ID) (string, bool) {
	for _, each := range ps {
		if name, ok := each.Name(id); ok {
			return name, true
		}
	}
	return "", false
}

// ============================================================================
// Registry
// ============================================================================

type entry struct {
	id      ID
	name    string
	factory Factory
}

// Registry is an immutable set of packet registrations.
type Registry struct {
	byType map[reflect.Type]*entry
	byID   map[ID]*entry
}

func (r *Registry) LookupID(p Packet) (ID, bool) {
	if p == nil {
		return ID{}, false
	}
	e, ok := r.byType[reflect.TypeOf(p)]
	if !ok {
		return ID{}, false
	}
	return e.id, true
}

func (r *Registry) New(id ID) (Packet, bool) {
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.factory(), true
}

func (r *Registry) Name(id ID) (string, bool) {
	e, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return e.name, true
}

// Len returns the number of registered packet types.
func (r *Registry) Len() int { return len(r.byType) }

// ============================================================================
// Builder
// ============================================================================

// Builder accumulates registrations. It is not safe for concurrent use.
type Builder struct {
	reg *Registry
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{reg: &Registry{
		byType: make(map[reflect.Type]*entry),
		byID:   make(map[ID]*entry),
	}}
}

// MapOption customizes a single registration.
type MapOption func(*mapOptions)

type mapOptions struct {
	name   string
	prefix string
}

// Named overrides the name the identifier is derived from.
func Named(name string) MapOption {
	return func(o *mapOptions) { o.name = name }
}

// Prefixed prepends prefix to the name.
func Prefixed(prefix string) MapOption {
	return func(o *mapOptions) { o.prefix = prefix }
}

// Register adds the type produced by factory. A type that is already
// registered keeps its first registration and Register returns its ID.
func (b *Builder) Register(factory Factory, opts ...MapOption) ID {
	sample := factory()
	typ := reflect.TypeOf(sample)
	if e, ok := b.reg.byType[typ]; ok {
		return e.id
	}

	var o mapOptions
	for _, opt := range opts {
		opt(&o)
	}

	name := o.name
	if name == "" {
		if n, ok := sample.(Namer); ok {
			name = n.PacketName()
		}
	}
	if name == "" {
		name = typeName(typ)
	}
	name = o.prefix + name

	e := &entry{id: IDFromName(name), name: name, factory: factory}
	b.reg.byType[typ] = e
	if _, taken := b.reg.byID[e.id]; !taken {
		b.reg.byID[e.id] = e
	}
	return e.id
}

// Build returns the registry. The builder must not be used afterwards.
func (b *Builder) Build() *Registry {
	reg := b.reg
	b.reg = nil
	return reg
}

// Map registers packet type *T, constructed with new(T).
func Map[T any, PT interface {
	*T
	Packet
}](b *Builder, opts ...MapOption) ID {
	return b.Register(func() Packet { return PT(new(T)) }, opts...)
}

// typeName returns "import/path.Type" for named types, dereferencing pointers.
func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
