package smtp4j

import (
	"github.com/tinylib/msgp/msgp"
)

// ToMessagePack and FromMessagePack implement the binary snapshot codec the
// package this was adapted from documented (ToMessagePack/FromMessagePack on
// its Mail type) but never actually implemented anywhere in its source —
// MarshalMsg/UnmarshalMsg below are hand-written against the msgp runtime
// package in the exact shape `go run github.com/tinylib/msgp` would have
// generated, since code generation can't run as part of this build. Message
// is small enough that maintaining this by hand alongside the struct is
// reasonable; a type that grew many more fields would be a argument for
// running the generator instead.

// MarshalMsg appends the MessagePack encoding of m to b.
func (m *Message) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 7)

	b = msgp.AppendString(b, "id")
	b = msgp.AppendString(b, m.ID)

	b = msgp.AppendString(b, "secure")
	b = msgp.AppendBool(b, m.Secure)

	b = msgp.AppendString(b, "receivedAt")
	b = msgp.AppendTime(b, m.ReceivedAt)

	b = msgp.AppendString(b, "raw")
	b = msgp.AppendBytes(b, m.Raw)

	b = msgp.AppendString(b, "from")
	b = msgp.AppendString(b, m.Envelope.From.Mailbox.String())

	b = msgp.AppendString(b, "to")
	b = msgp.AppendArrayHeader(b, uint32(len(m.Envelope.To)))
	for _, rcpt := range m.Envelope.To {
		b = msgp.AppendString(b, rcpt.Address.Mailbox.String())
	}

	b = msgp.AppendString(b, "size")
	b = msgp.AppendInt64(b, m.Envelope.Size)

	return b, nil
}

// UnmarshalMsg decodes a MessagePack-encoded Message from bts, returning
// any trailing unconsumed bytes.
func (m *Message) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}

	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}

		switch field {
		case "id":
			m.ID, bts, err = msgp.ReadStringBytes(bts)
		case "secure":
			m.Secure, bts, err = msgp.ReadBoolBytes(bts)
		case "receivedAt":
			m.ReceivedAt, bts, err = msgp.ReadTimeBytes(bts)
		case "raw":
			m.Raw, bts, err = msgp.ReadBytesBytes(bts, nil)
		case "from":
			var addr string
			addr, bts, err = msgp.ReadStringBytes(bts)
			if err == nil {
				mbx, _ := ParseAddress(addr)
				m.Envelope.From = Path{Mailbox: mbx}
			}
		case "to":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				break
			}
			m.Envelope.To = make([]Recipient, 0, n)
			for j := uint32(0); j < n && err == nil; j++ {
				var addr string
				addr, bts, err = msgp.ReadStringBytes(bts)
				if err == nil {
					mbx, _ := ParseAddress(addr)
					m.Envelope.To = append(m.Envelope.To, Recipient{Address: Path{Mailbox: mbx}})
				}
			}
		case "size":
			m.Envelope.Size, bts, err = msgp.ReadInt64Bytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}

		if err != nil {
			return bts, err
		}
	}

	return bts, nil
}

// ToMessagePack encodes the message into a standalone MessagePack byte slice.
func (m *Message) ToMessagePack() ([]byte, error) {
	return m.MarshalMsg(nil)
}

// FromMessagePack decodes a MessagePack byte slice produced by ToMessagePack.
func FromMessagePack(data []byte) (*Message, error) {
	m := new(Message)
	_, err := m.UnmarshalMsg(data)
	if err != nil {
		return nil, err
	}
	return m, nil
}
