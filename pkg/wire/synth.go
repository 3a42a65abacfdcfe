package wire

import "github.com/PeterCxy/wl-mitm/pkg/objects"

// wl_display.error event opcode in the core protocol.
const displayErrorOpcode = 0

// SynthesizeDisplayError fabricates a wl_display.error event that
// blames objectID with the given code. Injected toward the client when
// a filter rejects a request, immediately before the session closes.
func SynthesizeDisplayError(objectID uint32, code uint32, text string) *RawMessage {
	return NewMessageBuilder(objects.DisplayObjectID, displayErrorOpcode).
		PutUint(objectID).
		PutUint(code).
		PutString(text).
		Build()
}
