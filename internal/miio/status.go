package miio

// Status is a point-in-time snapshot of a device's readable properties,
// keyed by descriptor ID. Absent keys mean the device did not answer for
// that property in the last poll.
type Status map[string]any

// Bool returns a boolean property value.
func (s Status) Bool(id string) (value, ok bool) {
	v, ok := s[id].(bool)
	return v, ok
}

// Int returns an integer property value.
func (s Status) Int(id string) (int64, bool) {
	v, ok := s[id].(int64)
	return v, ok
}

// Float returns a numeric property value, accepting both integer and
// float formats.
func (s Status) Float(id string) (float64, bool) {
	switch v := s[id].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// String returns a string property value.
func (s Status) String(id string) (string, bool) {
	v, ok := s[id].(string)
	return v, ok
}

// Clone returns a shallow copy. Snapshots handed to subscribers must not
// alias the poller's working map.
func (s Status) Clone() Status {
	out := make(Status, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
