package models

import "encoding/json"

// Tristate is a boolean that may not be known yet.
type Tristate int8

const (
	Unknown Tristate = iota
	True
	False
)

// TristateOf converts a known boolean.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes Unknown as null.
func (t Tristate) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (t *Tristate) UnmarshalJSON(b []byte) error {
	var v *bool
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*t = Unknown
	} else {
		*t = TristateOf(*v)
	}
	return nil
}

// NetworkState is the live connectivity status. It is never persisted.
type NetworkState struct {
	IsOnline            Tristate `json:"isOnline"`
	ConnectionType      string   `json:"connectionType"`
	IsInternetReachable Tristate `json:"isInternetReachable"`
}

// Offline reports whether the device is known to be offline. Unknown is not offline.
func (s NetworkState) Offline() bool {
	return s.IsOnline == False
}
