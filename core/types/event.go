package types

// Event is the flat payload recorded for every committed escrow change.
// Attribute values are strings so the payload indexes and exports without a
// schema per event type.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute, or "" when it is absent.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
