package bus

import (
	"fmt"
	"strings"
)

const maxChannelNameLen = 256

// SystemPrefix is the default leading character reserved for
// router-internal channels ($lifecycle, $message.traces).
const SystemPrefix = "$"

// ValidateChannelName enforces §3's channel-name grammar: 1..256 UTF-8
// bytes, no "..", and '$' only permitted as the leading character of a
// system channel.
func ValidateChannelName(name, systemPrefix string) error {
	if strings.TrimSpace(name) == "" {
		return newErr("ValidateChannelName", name, fmt.Errorf("%w: empty or whitespace name", ErrArgument))
	}
	if len(name) > maxChannelNameLen {
		return newErr("ValidateChannelName", name, fmt.Errorf("%w: name exceeds %d bytes", ErrArgument, maxChannelNameLen))
	}
	if strings.Contains(name, "..") {
		return newErr("ValidateChannelName", name, fmt.Errorf("%w: name contains \"..\"", ErrArgument))
	}
	if systemPrefix != "" && strings.Contains(strings.TrimPrefix(name, systemPrefix), systemPrefix) {
		return newErr("ValidateChannelName", name, fmt.Errorf("%w: %q only allowed as leading prefix", ErrArgument, systemPrefix))
	}
	return nil
}
