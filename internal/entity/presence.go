package entity

// DeviceClass is a coarse device category, carried for display only.
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceLaptop  DeviceClass = "laptop"
	DeviceDesktop DeviceClass = "desktop"
	DeviceUser    DeviceClass = "user"
)

// PresenceRecord is the ephemeral liveness entry for one connected
// device/user. Keyed by its own identity; mutated only by its owner's
// heartbeat, deleted by release, disconnect cleanup, or any client's
// stale sweep.
type PresenceRecord struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	DeviceClass  DeviceClass `json:"type"`
	ProfileImage string      `json:"profileImage,omitempty"`
	// LastSeen is epoch milliseconds of the most recent heartbeat.
	LastSeen int64 `json:"lastSeen"`
}
