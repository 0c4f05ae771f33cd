package model

// PushState is the process-wide push registration state derived from the OS
// permission and the device push token. Token is only meaningful when Granted.
type PushState struct {
	Granted bool   `json:"granted"`
	Token   string `json:"token,omitempty"`
}

// Deliverable reports whether pushes can reach this device.
func (p PushState) Deliverable() bool {
	return p.Granted && p.Token != ""
}
