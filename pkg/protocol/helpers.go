package protocol

// =============================================================================
// Helpers for building client requests
// =============================================================================

// VerboseRequest asks the controller for a full snapshot.
func VerboseRequest() []byte {
	return []byte(`{"v":true}`)
}

// LiveRequest subscribes (on=true) or unsubscribes from the live feed.
func LiveRequest(on bool) []byte {
	if on {
		return []byte(`{"lv":true}`)
	}
	return []byte(`{"lv":false}`)
}

// PingRequest is the smallest valid heartbeat.
func PingRequest() []byte {
	return []byte{PingMarker}
}
