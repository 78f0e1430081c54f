package nlu

import (
	"context"
	"strings"
)

// Keyword is a deterministic Understander built on phrase matching. It needs
// no model and no network, which makes it the default for tests, the chat
// REPL, and deployments that script their flows tightly.
//
// Matching is intentionally simple: trigger phrases match as substrings of
// the lowercased message, cancellation and yes/no use small fixed lexicons,
// and anything else while a slot is awaited is taken as the slot value.
type Keyword struct{}

// NewKeyword returns the keyword understander.
func NewKeyword() *Keyword { return &Keyword{} }

var cancelPhrases = []string{
	"cancel", "never mind", "nevermind", "forget it", "stop this", "abort",
}

var yesPhrases = []string{
	"yes", "yeah", "yep", "sure", "correct", "confirm", "ok", "okay", "right",
}

var noPhrases = []string{
	"no", "nope", "nah", "wrong", "incorrect", "don't", "do not",
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func matchesAny(msg string, phrases []string) bool {
	for _, p := range phrases {
		if msg == p || strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// matchFlow returns the first flow whose trigger phrase appears in the
// message, longest phrase first so specific triggers beat generic ones.
func matchFlow(msg string, triggers map[string][]string) string {
	bestFlow, bestLen := "", 0
	for flow, phrases := range triggers {
		for _, p := range phrases {
			p = normalize(p)
			if p == "" || !strings.Contains(msg, p) {
				continue
			}
			if len(p) > bestLen || (len(p) == bestLen && flow < bestFlow) {
				bestFlow, bestLen = flow, len(p)
			}
		}
	}
	return bestFlow
}

// UnderstandFull classifies a message with no awaited slot.
func (k *Keyword) UnderstandFull(_ context.Context, req Request) (*FullResult, error) {
	msg := normalize(req.Message)
	res := &FullResult{MessageType: MessageUnknown, Confidence: 1}

	if req.ActiveFlow != "" && matchesAny(msg, cancelPhrases) {
		res.MessageType = MessageCommand
		res.Commands = append(res.Commands, Command{Kind: CmdCancelFlow})
	}
	if flow := matchFlow(msg, req.Triggers); flow != "" {
		res.MessageType = MessageCommand
		res.Commands = append(res.Commands, Command{Kind: CmdStartFlow, Flow: flow})
	}
	SortCommands(res.Commands)
	return res, nil
}

// UnderstandSlot interprets a message while a slot or confirmation is
// awaited.
func (k *Keyword) UnderstandSlot(_ context.Context, req Request) (*SlotResult, error) {
	msg := normalize(req.Message)

	if matchesAny(msg, cancelPhrases) {
		return &SlotResult{Kind: SlotCancellation, Confidence: 1}, nil
	}
	if flow := matchFlow(msg, req.Triggers); flow != "" && flow != req.ActiveFlow {
		return &SlotResult{Kind: SlotIntentChange, TargetFlow: flow, Confidence: 1}, nil
	}
	if req.Confirming {
		// Check denial first: "no" is a substring of phrases like "not now"
		// that must never read as assent.
		if matchesAny(msg, noPhrases) {
			return &SlotResult{Kind: SlotDenial, Confidence: 1}, nil
		}
		if matchesAny(msg, yesPhrases) {
			return &SlotResult{Kind: SlotConfirmation, Confidence: 1}, nil
		}
		return &SlotResult{Kind: SlotClarify, Confidence: 1}, nil
	}
	if strings.HasSuffix(msg, "?") {
		return &SlotResult{Kind: SlotQuestion, Confidence: 1}, nil
	}
	return &SlotResult{
		Kind:       SlotValue,
		Value:      strings.TrimSpace(req.Message),
		TargetSlot: req.AwaitedSlot,
		Confidence: 1,
	}, nil
}

// Generate returns the instruction itself. The keyword understander has no
// generative capability; hosts that use generate steps provide their own
// Understander.
func (k *Keyword) Generate(_ context.Context, req GenerateRequest) (string, error) {
	return req.Instruction, nil
}
