package domain

// DeviceState is advisory UI state, never a gate on media flow.
type DeviceState struct {
	AudioEnabled bool `json:"audioEnabled"`
	VideoEnabled bool `json:"videoEnabled"`
}

// Participant represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Participant struct {
	Identity Identity
	Device   DeviceState
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
// Devices start enabled, matching what a client shows before its first update.
func NewParticipant(id Identity) *Participant {
	return &Participant{
		Identity: id,
		Device:   DeviceState{AudioEnabled: true, VideoEnabled: true},
	}
}
