package sfu

// BitratePolicy bounds every outgoing bitrate the server agrees to.
type BitratePolicy struct {
	Initial int
	Floor   int
	Ceiling int
}

func DefaultBitratePolicy() BitratePolicy {
	return BitratePolicy{Initial: 1_000_000, Floor: 600_000, Ceiling: 1_500_000}
}

func (p BitratePolicy) Clamp(bps int) int {
	return min(max(bps, p.Floor), p.Ceiling)
}
