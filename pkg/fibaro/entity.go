package fibaro

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Room is a room as listed by the hub
type Room struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SectionID int64  `json:"sectionID"`
}

// Scene is a scene as listed by the hub
type Scene struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	RoomID int64  `json:"roomID"`
}

// Device is a device as listed by the hub. Only the fields the client acts
// on are decoded; the rest of the payload is ignored.
type Device struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	RoomID     int64            `json:"roomID"`
	Type       string           `json:"type"`
	Enabled    bool             `json:"enabled"`
	Properties DeviceProperties `json:"properties"`
}

// DeviceProperties holds the device properties the client reads
type DeviceProperties struct {
	Value Value `json:"value"`
	Dead  Value `json:"dead"`
}

// Value is a property value. The hub encodes numbers and booleans as JSON
// strings ("0", "1", "true") but some firmware sends bare numbers.
type Value string

// UnmarshalJSON accepts strings, numbers and booleans. JSON null is kept as
// the literal "null".
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value("null")
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value(s)
		return nil
	}
	*v = Value(strings.TrimSpace(string(data)))
	return nil
}

// IsZero reports whether the value reads as off: "", "0", "false", "null" or
// any numeric zero.
func (v Value) IsZero() bool {
	s := strings.TrimSpace(string(v))
	switch s {
	case "", "0", "false", "null":
		return true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f == 0
	}
	return false
}

// Change is one opaque change record of a refreshStates report
type Change map[string]json.RawMessage

// DeviceID returns the "id" member of the change when it is numeric
func (c Change) DeviceID() (int64, bool) {
	raw, ok := c["id"]
	if !ok {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

// HasValue reports whether the change carries a value-kind member
// (value, valueSensor, ...).
func (c Change) HasValue() bool {
	for key := range c {
		if strings.Contains(strings.ToLower(key), "value") {
			return true
		}
	}
	return false
}

// ChangeReport is the decoded body of one refreshStates call
type ChangeReport struct {
	Last      uint64   `json:"last"`
	Timestamp int64    `json:"timestamp"`
	Changes   []Change `json:"changes"`

	// Raw is the undecoded response body
	Raw []byte `json:"-"`
}

// HasValueChange reports whether any change of the report carries a value
func (r *ChangeReport) HasValueChange() bool {
	for _, c := range r.Changes {
		if c.HasValue() {
			return true
		}
	}
	return false
}

// Time is the server wall-clock time of the report
func (r *ChangeReport) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// DiscoveredHub is one hub announcement received during discovery
type DiscoveredHub struct {
	IP     string `json:"ip"`
	Serial string `json:"serial"`
	MAC    string `json:"mac"`
}
