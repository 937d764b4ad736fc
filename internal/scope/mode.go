package scope

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode selects how the activation decision is computed for programs
// launched in a scope. Numeric values match the four-state status tunable.
type Mode int

const (
	Disabled     Mode = 0
	OptIn        Mode = 1
	OptOut       Mode = 2
	ForceEnabled Mode = 3
)

// modeUnknown is stored when a configuration names a mode that does not
// exist. Sanitize coerces it to ForceEnabled.
const modeUnknown Mode = -1

var modeNames = map[Mode]string{
	Disabled:     "disabled",
	OptIn:        "optin",
	OptOut:       "optout",
	ForceEnabled: "force_enabled",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("invalid(%d)", int(m))
}

// Valid reports whether m is one of the four defined modes.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode accepts a mode name ("optin", "opt-in", "force_enabled", ...)
// or its numeric value. Unknown input returns an error.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		m := Mode(n)
		if !m.Valid() {
			return modeUnknown, fmt.Errorf("%w: status %d", ErrInvalidValue, n)
		}
		return m, nil
	}
	switch strings.NewReplacer("-", "", "_", "").Replace(s) {
	case "disabled", "off":
		return Disabled, nil
	case "optin":
		return OptIn, nil
	case "optout":
		return OptOut, nil
	case "forceenabled", "force", "on":
		return ForceEnabled, nil
	}
	return modeUnknown, fmt.Errorf("%w: status %q", ErrInvalidValue, s)
}

// UnmarshalYAML never fails on an unknown mode: the value is kept as
// invalid so the loader can coerce it with a warning.
func (m *Mode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("status must be a scalar (line %d)", node.Line)
	}
	parsed, err := ParseMode(node.Value)
	if err != nil {
		if n, convErr := strconv.Atoi(node.Value); convErr == nil {
			*m = Mode(n)
			return nil
		}
		*m = modeUnknown
		return nil
	}
	*m = parsed
	return nil
}

// MarshalYAML writes the mode by name.
func (m Mode) MarshalYAML() (any, error) {
	return m.String(), nil
}
