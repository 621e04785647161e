package mqtt

import (
	"fmt"
	"strings"
)

// ValidateFilter checks the wildcard rules of an MQTT topic filter:
// "#" may only appear as the last level and "+" must fill a whole level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: misplaced '#' in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: misplaced '+' in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// MatchTopic reports whether a concrete topic matches a subscription filter.
//
// Examples:
//
//	MatchTopic("$iothub/methods/POST/#", "$iothub/methods/POST/EmergencyStop/?$rid=1") // true
//	MatchTopic("devices/+/messages/events/", "devices/d1/messages/events/")            // true
func MatchTopic(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
