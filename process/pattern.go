package process

// Pattern is a predicate over a Message used by selective receive
// (§3, §4.1). The zero value matches nothing; use the constructors
// below.
type Pattern struct {
	match func(Message) bool
}

// Matches reports whether m satisfies the pattern.
func (p Pattern) Matches(m Message) bool {
	if p.match == nil {
		return false
	}
	return p.match(m)
}

// Any matches every message.
func Any() Pattern {
	return Pattern{match: func(Message) bool { return true }}
}

// TextLiteral matches a KindText message equal to literal.
func TextLiteral(literal string) Pattern {
	return Pattern{match: func(m Message) bool {
		s, ok := m.Text()
		return ok && s == literal
	}}
}

// Type matches any message of the given kind, regardless of payload.
func Type(kind MessageKind) Pattern {
	return Pattern{match: func(m Message) bool { return m.Kind() == kind }}
}

// Custom wraps an arbitrary user predicate. If fn panics while a scan
// is evaluating it, the panic is caught by the scanning process and
// surfaced as a crash (§4.1 Failure modes), never as a runtime panic.
func Custom(fn func(Message) bool) Pattern {
	return Pattern{match: fn}
}
