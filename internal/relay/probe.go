package relay

// IsProbe reports whether payload is a liveness/discovery ping.
func IsProbe(payload map[string]any) bool {
	return packetType(payload) == PacketTypeProbe
}

// BuildProbeAck answers a probe. A non-null nonce is echoed unchanged.
func BuildProbeAck(payload map[string]any) map[string]any {
	ack := map[string]any{"type": PacketTypeProbeAck}
	if nonce, ok := payload["nonce"]; ok && nonce != nil {
		ack["nonce"] = nonce
	}
	return ack
}
