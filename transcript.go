package smtp4j

// Exchange pairs the raw lines the client sent since the previous reply
// with the reply that answered them, per the transcript contract: every
// reply closes out exactly the input that provoked it.
type Exchange struct {
	// Received holds each raw line the client sent since the last Exchange
	// was recorded, CRLF stripped, projected byte-for-byte as if decoded
	// ISO-8859-1 (see latin1Decode) so the transcript survives regardless of
	// the wire encoding the client actually used.
	Received []string
	// Reply is the server's response text as sent on the wire, CRLF included.
	Reply string
}

// transcriptRecorder accumulates raw lines and pairs them with replies,
// grounded on the original implementation's readData-buffer-plus-exchanges
// pattern: lines pile up in a buffer, a reply flushes the buffer into one
// Exchange and clears it.
type transcriptRecorder struct {
	pending   []string
	exchanges []Exchange
}

func (t *transcriptRecorder) recordLine(raw []byte) {
	t.pending = append(t.pending, latin1Decode(raw))
}

func (t *transcriptRecorder) recordReply(wire string) {
	t.exchanges = append(t.exchanges, Exchange{
		Received: t.pending,
		Reply:    wire,
	})
	t.pending = nil
}

func (t *transcriptRecorder) snapshot() []Exchange {
	out := make([]Exchange, len(t.exchanges))
	copy(out, t.exchanges)
	return out
}

// latin1Decode projects raw bytes into a string byte-for-byte, as if each
// byte were its own ISO-8859-1 code point. A Go string is just a byte
// sequence — converting through runes would re-encode any byte ≥ 0x80 as
// multi-byte UTF-8 and break the wire-identical round trip the transcript
// contract depends on, so the conversion is nothing more than this.
func latin1Decode(raw []byte) string {
	return string(raw)
}
