package battery

// Accumulate adds delta to level without applying any bounds.
func Accumulate(level, delta int) int {
	return level + delta
}

// Clamp restricts level to [MinLevel, MaxLevel].
func Clamp(level int) int {
	if level > MaxLevel {
		return MaxLevel
	}
	return max(level, MinLevel)
}
