package logic

// Desired returns the LED state the threshold rule asks for.
// The boundary is inclusive: a temperature equal to the threshold turns
// the LED on.
func Desired(temperature, threshold float64) LedState {
	if temperature >= threshold {
		return LedOn
	}
	return LedOff
}

// Transition compares the current LED state with the one the rule wants.
// It returns the command to send and true when the state must change.
func Transition(current LedState, temperature, threshold float64) (Command, bool) {
	want := Desired(temperature, threshold)
	if want == current {
		return "", false
	}
	return CommandFor(want), true
}
