package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLiterals(t *testing.T) {
	cases := []struct {
		kind   Kind
		params []string
		want   []byte
	}{
		{KindChallenge, nil, []byte{'C', 31, 'C', 'H', 30}},
		{KindChallengeResponse, []string{"addr"}, []byte{'C', 31, 'C', 'H', 'R', 31, 'a', 'd', 'd', 'r', 30}},
		{KindConnectionAck, nil, []byte{'C', 31, 'A', 30}},
		{KindAuthRequest, nil, []byte{'A', 31, 'R', 'E', 'Q', 31, '{', '}', 30}},
		{KindAuthAck, nil, []byte{'A', 31, 'A', 30}},
		{KindEventSubscribe, []string{"eventName"}, []byte{'E', 31, 'S', 31, 'e', 'v', 'e', 'n', 't', 'N', 'a', 'm', 'e', 30}},
		{KindEventPublish, []string{"eventName"}, []byte{'E', 31, 'E', 'V', 'T', 31, 'e', 'v', 'e', 'n', 't', 'N', 'a', 'm', 'e', 30}},
		{KindPong, nil, []byte{'C', 31, 'P', 'O', 30}},
	}
	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			got, err := Encode(c.kind, c.params...)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		kind   Kind
		params []string
		decode func([]byte) (Message, error)
	}{
		{KindChallenge, nil, Decode},
		{KindConnectionAck, nil, Decode},
		{KindAuthAck, nil, Decode},
		{KindPing, nil, Decode},
		{KindLoginConfirmation, []string{"eventName"}, Decode},
		{KindEventNotification, []string{"eventName"}, Classify},
		{KindChallengeResponse, []string{"ws://127.0.0.1:6020/deepstream"}, DecodeOutbound},
		{KindAuthRequest, []string{"{}"}, DecodeOutbound},
		{KindEventSubscribe, []string{"eventName"}, DecodeOutbound},
		{KindEventPublish, []string{"eventName"}, DecodeOutbound},
		{KindPong, nil, DecodeOutbound},
	}
	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			frame, err := Encode(c.kind, c.params...)
			require.NoError(t, err)

			msg, err := c.decode(frame)
			require.NoError(t, err)
			assert.Equal(t, c.kind, msg.Kind)
			assert.Equal(t, c.params, msg.Params)
			assert.Equal(t, len(frame), msg.Size)
		})
	}
}

func TestDecodeByLength(t *testing.T) {
	msg, err := Decode(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, KindLoginConfirmation, msg.Kind)
	assert.Nil(t, msg.Params)

	msg, err = Decode(make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, KindEventNotification, msg.Kind)
	assert.Equal(t, 2, msg.Units())

	msg, err = Decode([]byte("abcde"))
	require.NoError(t, err)
	assert.Equal(t, KindPing, msg.Kind)
}

func TestClassifyUnits(t *testing.T) {
	msg, err := Classify(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, KindEventNotification, msg.Kind)
	assert.Equal(t, 1, msg.Units())

	msg, err = Classify(make([]byte, 48))
	require.NoError(t, err)
	assert.Equal(t, 3, msg.Units())
}

func TestProtocolViolation(t *testing.T) {
	for _, n := range []int{0, 1, 4 + 17, 15, 17, 33} {
		_, err := Classify(make([]byte, n))
		assert.ErrorIs(t, err, ErrProtocolViolation, "length %d", n)
	}

	_, err := Decode(make([]byte, 21))
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestEncodeRejectsBadFrames(t *testing.T) {
	_, err := Encode(KindLoginConfirmation, "event")
	assert.ErrorIs(t, err, ErrFrameLength)

	_, err = Encode(KindEventNotification, "tooLongEventName")
	assert.ErrorIs(t, err, ErrFrameLength)

	_, err = Encode(KindEventPublish)
	assert.ErrorIs(t, err, ErrParams)

	_, err = Encode(KindUnknown)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeOutboundErrors(t *testing.T) {
	_, err := DecodeOutbound([]byte("garbage"))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = DecodeOutbound(record("X", "Y", "z"))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = DecodeOutbound(record("E", "S"))
	assert.ErrorIs(t, err, ErrParams)
}

func TestDirection(t *testing.T) {
	assert.Equal(t, Outbound, KindEventPublish.Direction())
	assert.Equal(t, Inbound, KindChallenge.Direction())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
