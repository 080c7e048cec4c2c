package relay

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// SourceIDPrefix marks the first component of an encoded source id.
	SourceIDPrefix = "oe-v1"

	sourceIDEmptyComponent = "-"
	sourceIDSeparator      = ":"
	sourceIDParts          = 5
)

// SourceIDParts are the four free-text components packed into a source id.
type SourceIDParts struct {
	DeviceName    string
	DeviceChannel string
	SensorName    string
	Source        string
}

// EncodeSourceID builds "oe-v1:<device>:<channel>:<sensor>:<source>".
func EncodeSourceID(p SourceIDParts) string {
	return strings.Join([]string{
		SourceIDPrefix,
		encodeComponent(p.DeviceName),
		encodeComponent(p.DeviceChannel),
		encodeComponent(p.SensorName),
		encodeComponent(p.Source),
	}, sourceIDSeparator)
}

// DecodeSourceID splits an encoded source id back into its components.
// The bool result is false for ids that are not ours (wrong prefix or part
// count); callers fall back to the discrete packet fields in that case.
func DecodeSourceID(sourceID string) (SourceIDParts, bool) {
	parts := strings.Split(sourceID, sourceIDSeparator)
	if len(parts) != sourceIDParts || parts[0] != SourceIDPrefix {
		return SourceIDParts{}, false
	}
	return SourceIDParts{
		DeviceName:    decodeComponent(parts[1]),
		DeviceChannel: decodeComponent(parts[2]),
		SensorName:    decodeComponent(parts[3]),
		Source:        decodeComponent(parts[4]),
	}, true
}

// BuildStreamName returns the human readable label
// "{device}[ [channel]] ({source}) - {sensor}".
func BuildStreamName(p SourceIDParts) string {
	channelSuffix := ""
	if p.DeviceChannel != "" {
		channelSuffix = " [" + p.DeviceChannel + "]"
	}
	return fmt.Sprintf("%s%s (%s) - %s", p.DeviceName, channelSuffix, p.Source, p.SensorName)
}

// encodeComponent escapes everything outside the unreserved set. QueryEscape
// already does that except that it writes spaces as '+'; a literal '+' is
// escaped as %2B so the replacement is unambiguous.
func encodeComponent(value string) string {
	cleaned := CleanText(value, "")
	if cleaned == "" {
		return sourceIDEmptyComponent
	}
	return strings.ReplaceAll(url.QueryEscape(cleaned), "+", "%20")
}

func decodeComponent(token string) string {
	if token == sourceIDEmptyComponent {
		return ""
	}
	return CleanText(unescapePercent(token), "")
}

// unescapePercent decodes every valid %XX escape in s. Malformed escapes are
// kept literally and invalid UTF-8 becomes U+FFFD. '+' is not a space.
func unescapePercent(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			buf = append(buf, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		buf = append(buf, s[i])
	}
	return strings.ToValidUTF8(string(buf), "\uFFFD")
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
