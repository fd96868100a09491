package demo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/xnet/pkg/packet"
)

func TestRegister(t *testing.T) {
	b := packet.NewBuilder()
	Register(b)
	reg := b.Build()

	tests := []struct {
		pkt  packet.Packet
		name string
	}{
		{&EchoRequest{}, "demo.echo.request"},
		{&EchoResponse{}, "demo.echo.response"},
		{&Notice{}, "demo.notice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := reg.LookupID(tt.pkt)
			require.True(t, ok)
			assert.Equal(t, packet.IDFromName(tt.name), id)

			name, ok := reg.Name(id)
			require.True(t, ok)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestEchoHandle(t *testing.T) {
	sent := time.Unix(0, 1_700_000_000_123_456_789)
	req := &EchoRequest{Text: "hello", SentAt: sent}

	resp, err := req.Handle(t.Context(), nil)
	require.NoError(t, err)

	echo, ok := resp.(*EchoResponse)
	require.True(t, ok)
	assert.Equal(t, "hello", echo.Text)
	assert.True(t, echo.SentAt.Equal(sent))
	assert.False(t, echo.ReceivedAt.IsZero())
}

func TestEchoResponseCodec(t *testing.T) {
	in := &EchoResponse{
		Text:       "round trip",
		SentAt:     time.Unix(0, 10),
		ReceivedAt: time.Unix(0, 20),
	}

	w := packet.NewWriter(64)
	defer w.Release()
	require.NoError(t, in.Encode(w))

	out := &EchoResponse{}
	require.NoError(t, out.Decode(packet.NewReader(w.Bytes())))
	assert.Equal(t, in.Text, out.Text)
	assert.True(t, out.SentAt.Equal(in.SentAt))
	assert.True(t, out.ReceivedAt.Equal(in.ReceivedAt))

	t.Run("TruncatedPayload", func(t *testing.T) {
		short := w.Bytes()[:w.Len()-4]
		err := (&EchoResponse{}).Decode(packet.NewReader(short))
		assert.ErrorIs(t, err, packet.ErrShortBuffer)
	})
}
