package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortCanonicalOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Message{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000"), CreatedAt: base}
	b := Message{ID: uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000"), CreatedAt: base}
	late := Message{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), CreatedAt: base.Add(time.Second)}

	msgs := []Message{late, b, a}
	Sort(msgs)

	assert.Equal(t, a.ID, msgs[0].ID, "same timestamp ties break on id")
	assert.Equal(t, b.ID, msgs[1].ID)
	assert.Equal(t, late.ID, msgs[2].ID)
}

func TestMarkReadByGrowsOnly(t *testing.T) {
	m := Message{}
	u := uuid.New()

	assert.True(t, m.MarkReadBy(u))
	assert.False(t, m.MarkReadBy(u), "re-marking is a no-op")
	assert.Len(t, m.ReadBy, 1)
}

func TestDecodeCallRequest(t *testing.T) {
	callerID := uuid.New()
	meta, err := EncodeMetadata(CallRequestMetadata{
		CallType: "video",
		RoomID:   "room-1",
		Token:    "tok",
		CallerID: callerID,
	})
	require.NoError(t, err)

	m := &Message{ID: uuid.New(), Type: TypeCallRequest, Metadata: meta}
	got, err := DecodeCallRequest(m)
	require.NoError(t, err)
	assert.Equal(t, "room-1", got.RoomID)
	assert.Equal(t, callerID, got.CallerID)
}

func TestDecodeCallRequestRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		meta CallRequestMetadata
	}{
		{"missing room", CallRequestMetadata{CallType: "audio", CallerID: uuid.New()}},
		{"missing caller", CallRequestMetadata{CallType: "audio", RoomID: "r"}},
		{"bad call type", CallRequestMetadata{CallType: "telepathy", RoomID: "r", CallerID: uuid.New()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _ := EncodeMetadata(tt.meta)
			_, err := DecodeCallRequest(&Message{Type: TypeCallRequest, Metadata: raw})
			assert.Error(t, err)
		})
	}

	_, err := DecodeCallRequest(&Message{Type: TypeText, Metadata: json.RawMessage(`{}`)})
	assert.Error(t, err, "wrong message type")

	_, err = DecodeCallRequest(&Message{Type: TypeCallRequest, Metadata: json.RawMessage(`{`)})
	assert.Error(t, err, "unparseable metadata")
}

func TestDecodeCallEndedToleratesGarbage(t *testing.T) {
	meta := DecodeCallEnded(&Message{Type: TypeCallEnded, Metadata: json.RawMessage(`{`)})
	require.NotNil(t, meta, "a call_ended is a valid termination signal even with unreadable metadata")
	assert.Equal(t, uuid.Nil, meta.EndedBy)

	meta = DecodeCallEnded(&Message{Type: TypeCallEnded})
	require.NotNil(t, meta)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "Incoming call", (&Message{Type: TypeCallRequest}).Preview())
	assert.Equal(t, "Call ended", (&Message{Type: TypeCallEnded}).Preview())
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, (&Message{Type: TypeText, Content: string(long)}).Preview(), 80)
}
