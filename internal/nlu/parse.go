package nlu

import (
	"fmt"

	"github.com/sonilabs/soni/internal/jsonutil"
)

// fullTypes is the closed set of message_type values.
var fullTypes = map[string]struct{}{
	MessageCommand:  {},
	MessageSlot:     {},
	MessageQuestion: {},
	MessageChitchat: {},
	MessageUnknown:  {},
}

// slotKinds is the closed set of slot-mode result kinds.
var slotKinds = map[string]struct{}{
	SlotValue:        {},
	SlotIntentChange: {},
	SlotQuestion:     {},
	SlotClarify:      {},
	SlotCorrection:   {},
	SlotCancellation: {},
	SlotConfirmation: {},
	SlotDenial:       {},
	SlotContinuation: {},
}

// ParseFullResult decodes a model response into a FullResult. The text may
// wrap the JSON in prose or a code fence; unknown classifications degrade to
// MessageUnknown rather than failing the turn.
func ParseFullResult(text string) (*FullResult, error) {
	var out FullResult
	if err := jsonutil.ExtractInto(text, &out); err != nil {
		return nil, fmt.Errorf("nlu: parsing full result: %w", err)
	}
	if _, ok := fullTypes[out.MessageType]; !ok {
		out.MessageType = MessageUnknown
	}
	for i, cmd := range out.Commands {
		if _, ok := cmdPriority[cmd.Kind]; !ok {
			return nil, fmt.Errorf("nlu: full result command %d has unknown kind %q", i, cmd.Kind)
		}
	}
	out.Confidence = clamp01(out.Confidence)
	return &out, nil
}

// ParseSlotResult decodes a model response into a SlotResult.
func ParseSlotResult(text string) (*SlotResult, error) {
	var out SlotResult
	if err := jsonutil.ExtractInto(text, &out); err != nil {
		return nil, fmt.Errorf("nlu: parsing slot result: %w", err)
	}
	if _, ok := slotKinds[out.Kind]; !ok {
		return nil, fmt.Errorf("nlu: slot result has unknown kind %q", out.Kind)
	}
	out.Confidence = clamp01(out.Confidence)
	return &out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
