package store

import (
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// badger 中的消息/用户记录使用 protobuf 线格式手工编解码，字段号固定：
//
//	message: 1 id, 2 from, 3 to, 4 text, 5 timestamp(unix ms), 6 seen
//	user   : 1 id, 2 username, 3 created_at(unix ms)
//
// 未知字段被跳过，便于以后追加字段。

const (
	msgFieldID        protowire.Number = 1
	msgFieldFrom      protowire.Number = 2
	msgFieldTo        protowire.Number = 3
	msgFieldText      protowire.Number = 4
	msgFieldTimestamp protowire.Number = 5
	msgFieldSeen      protowire.Number = 6

	userFieldID        protowire.Number = 1
	userFieldUsername  protowire.Number = 2
	userFieldCreatedAt protowire.Number = 3
)

var errCorruptRecord = errors.New("store: corrupt record")

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func marshalMessage(m *Message) []byte {
	b := make([]byte, 0, 32+len(m.ID)+len(m.From)+len(m.To)+len(m.Text))
	b = appendString(b, msgFieldID, m.ID)
	b = appendString(b, msgFieldFrom, m.From)
	b = appendString(b, msgFieldTo, m.To)
	b = appendString(b, msgFieldText, m.Text)
	b = appendVarint(b, msgFieldTimestamp, uint64(m.Timestamp.UnixMilli()))
	b = appendVarint(b, msgFieldSeen, protowire.EncodeBool(m.Seen))
	return b
}

func unmarshalMessage(b []byte) (*Message, error) {
	m := &Message{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch {
		case num == msgFieldID && typ == protowire.BytesType:
			return consumeString(field, &m.ID)
		case num == msgFieldFrom && typ == protowire.BytesType:
			return consumeString(field, &m.From)
		case num == msgFieldTo && typ == protowire.BytesType:
			return consumeString(field, &m.To)
		case num == msgFieldText && typ == protowire.BytesType:
			return consumeString(field, &m.Text)
		case num == msgFieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.Timestamp = time.UnixMilli(int64(v)).UTC()
			return n, nil
		case num == msgFieldSeen && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			m.Seen = protowire.DecodeBool(v)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, field), nil
		}
	})
	if err != nil {
		return nil, err
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.UnixMilli(0).UTC()
	}
	return m, nil
}

func marshalUser(u *User) []byte {
	b := make([]byte, 0, 24+len(u.ID)+len(u.Username))
	b = appendString(b, userFieldID, u.ID)
	b = appendString(b, userFieldUsername, u.Username)
	b = appendVarint(b, userFieldCreatedAt, uint64(u.CreatedAt.UnixMilli()))
	return b
}

func unmarshalUser(b []byte) (*User, error) {
	u := &User{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch {
		case num == userFieldID && typ == protowire.BytesType:
			return consumeString(field, &u.ID)
		case num == userFieldUsername && typ == protowire.BytesType:
			return consumeString(field, &u.Username)
		case num == userFieldCreatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			u.CreatedAt = time.UnixMilli(int64(v)).UTC()
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, field), nil
		}
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func consumeString(b []byte, dst *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n, nil
}

// consumeFields 逐个解析字段，fn 返回本字段值占用的字节数（负数表示解析失败）。
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, field []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(errCorruptRecord, protowire.ParseError(n).Error())
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return errors.Wrap(errCorruptRecord, protowire.ParseError(m).Error())
		}
		b = b[m:]
	}
	return nil
}
