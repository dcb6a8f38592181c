package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMessageRecord(t *testing.T) {
	in := &Message{
		ID:        "0190-id",
		From:      "alice",
		To:        "bob",
		Text:      "你好",
		Timestamp: time.UnixMilli(1714564800123).UTC(),
		Seen:      true,
	}
	out, err := unmarshalMessage(marshalMessage(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRecordSkipsUnknownFields(t *testing.T) {
	b := marshalUser(&User{ID: "u1", Username: "alice", CreatedAt: time.UnixMilli(42).UTC()})
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	u, err := unmarshalUser(b)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, int64(42), u.CreatedAt.UnixMilli())
}

func TestRecordCorrupt(t *testing.T) {
	b := marshalMessage(&Message{ID: "x", Text: "hello"})
	_, err := unmarshalMessage(b[:len(b)-2])
	assert.ErrorIs(t, err, errCorruptRecord)
}
