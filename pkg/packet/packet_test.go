package packet

import (
	"crypto/md5"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chat struct {
	From string
	Text string
	Seq  uint32
	Ok   bool
	Blob []byte
	When int64
	Ref  uuid.UUID
}

func (c *chat) Encode(w *Writer) error {
	w.WriteString(c.From)
	w.WriteString(c.Text)
	w.WriteUint32(c.Seq)
	w.WriteBool(c.Ok)
	w.WriteBytes(c.Blob)
	w.WriteInt64(c.When)
	w.WriteUUID(c.Ref)
	return nil
}

func (c *chat) Decode(r *Reader) error {
	var err error
	if c.From, err = r.ReadString(); err != nil {
		return err
	}
	if c.Text, err = r.ReadString(); err != nil {
		return err
	}
	if c.Seq, err = r.ReadUint32(); err != nil {
		return err
	}
	if c.Ok, err = r.ReadBool(); err != nil {
		return err
	}
	if c.Blob, err = r.ReadBytes(); err != nil {
		return err
	}
	if c.When, err = r.ReadInt64(); err != nil {
		return err
	}
	c.Ref, err = r.ReadUUID()
	return err
}

type named struct{}

func (named) PacketName() string      { return "custom.name" }
func (*named) Encode(w *Writer) error { return nil }
func (*named) Decode(r *Reader) error { return nil }

type other struct{}

func (*other) Encode(w *Writer) error { return nil }
func (*other) Decode(r *Reader) error { return nil }

// ============================================================================
// Identifier Derivation
// ============================================================================

func TestIDFromName(t *testing.T) {
	want := md5.Sum([]byte("PACKET [xnet.ping]"))
	assert.Equal(t, ID(want), IDFromName("xnet.ping"))
	assert.NotEqual(t, IDFromName("a"), IDFromName("b"))
	assert.Len(t, IDFromName("a").String(), 36)
}

func TestBuilderNames(t *testing.T) {
	t.Run("DefaultsToQualifiedTypeName", func(t *testing.T) {
		b := NewBuilder()
		id := Map[chat](b)
		reg := b.Build()

		name, ok := reg.Name(id)
		require.True(t, ok)
		assert.Equal(t, "github.com/marmos91/xnet/pkg/packet.chat", name)
		assert.Equal(t, IDFromName(name), id)
	})

	t.Run("PacketNameBeatsTypeName", func(t *testing.T) {
		b := NewBuilder()
		id := Map[named](b)
		assert.Equal(t, IDFromName("custom.name"), id)
	})

	t.Run("ExplicitNameBeatsPacketName", func(t *testing.T) {
		b := NewBuilder()
		id := Map[named](b, Named("explicit"))
		assert.Equal(t, IDFromName("explicit"), id)
	})

	t.Run("PrefixApplied", func(t *testing.T) {
		b := NewBuilder()
		id := Map[named](b, Prefixed("grp."))
		assert.Equal(t, IDFromName("grp.custom.name"), id)
	})

	t.Run("DuplicateTypeFirstWins", func(t *testing.T) {
		b := NewBuilder()
		first := Map[other](b, Named("one"))
		second := Map[other](b, Named("two"))
		reg := b.Build()

		assert.Equal(t, first, second)
		assert.Equal(t, 1, reg.Len())
		_, ok := reg.New(IDFromName("two"))
		assert.False(t, ok)
	})
}

// ============================================================================
// Lookup
// ============================================================================

func TestRegistryLookup(t *testing.T) {
	b := NewBuilder()
	chatID := Map[chat](b)
	reg := b.Build()

	t.Run("TypeToID", func(t *testing.T) {
		id, ok := reg.LookupID(&chat{})
		require.True(t, ok)
		assert.Equal(t, chatID, id)

		_, ok = reg.LookupID(&other{})
		assert.False(t, ok)

		_, ok = reg.LookupID(nil)
		assert.False(t, ok)
	})

	t.Run("IDToFreshInstance", func(t *testing.T) {
		a, ok := reg.New(chatID)
		require.True(t, ok)
		b2, _ := reg.New(chatID)
		assert.IsType(t, &chat{}, a)
		assert.NotSame(t, a, b2)
	})

	t.Run("ProvidersInPriorityOrder", func(t *testing.T) {
		hi := NewBuilder()
		Map[other](hi, Named("shared"))
		lo := NewBuilder()
		Map[chat](lo, Named("shared"))
		Map[named](lo)

		ps := Providers{hi.Build(), lo.Build()}

		p, ok := ps.New(IDFromName("shared"))
		require.True(t, ok)
		assert.IsType(t, &other{}, p, "first provider must win")

		id, ok := ps.LookupID(&named{})
		require.True(t, ok)
		assert.Equal(t, IDFromName("custom.name"), id)

		_, ok = ps.New(IDFromName("missing"))
		assert.False(t, ok)
	})
}

// ============================================================================
// Codec
// ============================================================================

func TestCodecRoundTrip(t *testing.T) {
	in := &chat{
		From: "alice",
		Text: strings.Repeat("x", 10_000),
		Seq:  42,
		Ok:   true,
		Blob: []byte{0, 1, 2, 255},
		When: -7,
		Ref:  uuid.New(),
	}

	w := NewWriter(16)
	defer w.Release()
	require.NoError(t, in.Encode(w))

	out := &chat{}
	r := NewReader(w.Bytes())
	require.NoError(t, out.Decode(r))

	assert.Equal(t, in, out)
	assert.Zero(t, r.Remaining())
}

func TestCodecErrors(t *testing.T) {
	t.Run("ShortInteger", func(t *testing.T) {
		_, err := NewReader([]byte{1, 2}).ReadUint32()
		assert.ErrorIs(t, err, ErrShortBuffer)
	})

	t.Run("TruncatedString", func(t *testing.T) {
		w := &Writer{}
		w.WriteString("hello")
		_, err := NewReader(w.Bytes()[:3]).ReadString()
		assert.ErrorIs(t, err, ErrShortBuffer)
	})

	t.Run("EmptyUvarint", func(t *testing.T) {
		_, err := NewReader(nil).ReadUvarint()
		assert.ErrorIs(t, err, ErrShortBuffer)
	})

	t.Run("OversizedLength", func(t *testing.T) {
		w := &Writer{}
		w.WriteUvarint(1 << 20)
		_, err := NewReader(w.Bytes()).ReadBytes()
		assert.Error(t, err)
	})

	t.Run("ReadBytesCopies", func(t *testing.T) {
		w := &Writer{}
		w.WriteBytes([]byte{7, 7})
		src := w.Bytes()
		got, err := NewReader(src).ReadBytes()
		require.NoError(t, err)
		src[1] = 0
		assert.Equal(t, []byte{7, 7}, got)
	})
}

func TestWriterGrow(t *testing.T) {
	w := NewWriter(4)
	defer w.Release()

	hdr := w.Grow(4)
	w.WriteUint16(0xBEEF)
	hdr[0] = 9

	assert.Equal(t, []byte{9, 0, 0, 0, 0xEF, 0xBE}, w.Bytes())
	assert.Equal(t, 6, w.Len())
}
