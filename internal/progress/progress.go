// Package progress implements the cosmetic progress estimate shown while a
// scan is running. The value carries no information about the real state of
// the remote scan.
package progress

const (
	// Complete is the value reported once a session reaches a terminal status.
	Complete = 100.0

	// Ceiling is the highest value Next will ever produce.
	Ceiling = 90.0
)

// Next returns the estimate that follows current. Growth slows down in
// bands and stops at Ceiling.
func Next(current float64) float64 {
	switch {
	case current < 30:
		return current + 2
	case current < 60:
		return current + 1
	case current < Ceiling:
		return min(current+0.5, Ceiling)
	default:
		return current
	}
}

// Clamp bounds p to [0, Complete].
func Clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > Complete {
		return Complete
	}
	return p
}
