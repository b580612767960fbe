package device

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	maxNameLength    = 64
	maxIDLength      = 50
	maxIdleTimeout   = 24 * 60 // minutes
	maxPort          = 65535
	idPattern        = `^[a-z0-9]+(?:-[a-z0-9]+)*$`
	nameForbidden    = "<>();"
	generatedIDBytes = 8
)

var idRegex = regexp.MustCompile(idPattern)

// ValidateFan checks a fan before it is stored.
func ValidateFan(f *Fan) error {
	if f == nil {
		return ErrInvalidFan
	}
	if err := ValidateName(f.Name); err != nil {
		return err
	}
	if f.ID != "" && (len(f.ID) > maxIDLength || !idRegex.MatchString(f.ID)) {
		return fmt.Errorf("%w: id %q must be lowercase letters, digits and hyphens", ErrInvalidFan, f.ID)
	}
	if net.ParseIP(f.IP) == nil {
		return fmt.Errorf("%w: %q is not an IP address", ErrInvalidAddress, f.IP)
	}
	if f.Port < 0 || f.Port > maxPort {
		return fmt.Errorf("%w: port %d", ErrInvalidAddress, f.Port)
	}
	if f.IdleTimeoutMinutes < 0 || f.IdleTimeoutMinutes > maxIdleTimeout {
		return fmt.Errorf("%w: idle timeout %d minutes", ErrInvalidFan, f.IdleTimeoutMinutes)
	}
	switch strings.ToUpper(f.TemperatureUnit) {
	case "", "C", "F":
	default:
		return fmt.Errorf("%w: temperature unit %q", ErrInvalidFan, f.TemperatureUnit)
	}
	return nil
}

// ValidateName rejects names the fan protocol cannot carry. Names are
// sent verbatim inside "<...;...>" frames, so delimiters are forbidden.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(trimmed) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if strings.ContainsAny(trimmed, nameForbidden) {
		return fmt.Errorf("%w: name %q contains one of %q", ErrInvalidName, trimmed, nameForbidden)
	}
	return nil
}

// GenerateID derives a registry ID from a fan name ("Master Bedroom" →
// "master-bedroom"). Names with nothing usable get a random ID.
func GenerateID(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}

	id := strings.TrimSuffix(b.String(), "-")
	if len(id) > maxIDLength {
		id = strings.TrimSuffix(id[:maxIDLength], "-")
	}
	if id == "" {
		id = "fan-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:generatedIDBytes]
	}
	return id
}
