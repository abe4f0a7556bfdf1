package config

import "fmt"

// BadConfigValue reports a configuration key whose value is unusable.
// It is fatal before scheduling starts.
type BadConfigValue struct {
	Key    string
	Value  any
	Reason string
}

func (e *BadConfigValue) Error() string {
	return fmt.Sprintf("bad config value %s=%v: %s", e.Key, e.Value, e.Reason)
}
