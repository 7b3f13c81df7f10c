package engine

// Intent is a detected top-level trigger. Intent extraction happens outside
// the engine; the engine only consumes the result.
type Intent string

const (
	IntentNone       Intent = ""
	IntentBook       Intent = "book"
	IntentCancel     Intent = "cancel"
	IntentReschedule Intent = "reschedule"
)

// Signal is a yes/no answer to an outstanding confirmation.
type Signal string

const (
	SignalNone   Signal = ""
	SignalAffirm Signal = "affirm"
	SignalDeny   Signal = "deny"
)

// TurnInput carries the already-extracted content of one user turn.
type TurnInput struct {
	Intent    Intent
	Facts     Facts
	Signal    Signal
	Selection int // 1-based index into the last presented options, 0 when absent
	Abort     bool
}

// PromptKind classifies what the engine is asking the conversation to do next.
type PromptKind string

const (
	// PromptAskFact requests a single missing fact.
	PromptAskFact PromptKind = "ask_fact"
	// PromptConfirm requests a yes/no answer to the rendered summary.
	PromptConfirm PromptKind = "confirm"
	// PromptChoose requests a selection from the rendered options.
	PromptChoose PromptKind = "choose"
	// PromptNotice carries a statement that needs no structured answer.
	PromptNotice PromptKind = "notice"
)

// Choice is one selectable entry of a choose prompt. Labels never contain
// internal identifiers.
type Choice struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// Prompt is the engine's structured output for the next assistant message.
// Text is opaque content for the host's rendering layer.
type Prompt struct {
	Kind    PromptKind `json:"kind"`
	Fact    FactKey    `json:"fact,omitempty"`
	Text    string     `json:"text"`
	Options []Choice   `json:"options,omitempty"`
}

// TurnOutput is the result of processing one turn.
type TurnOutput struct {
	Prompt  *Prompt `json:"prompt,omitempty"`
	Done    bool    `json:"done"`
	Outcome Outcome `json:"outcome,omitempty"`
}

func askFact(key FactKey, text string) *TurnOutput {
	return &TurnOutput{Prompt: &Prompt{Kind: PromptAskFact, Fact: key, Text: text}}
}

func confirm(text string) *TurnOutput {
	return &TurnOutput{Prompt: &Prompt{Kind: PromptConfirm, Text: text}}
}

func choose(text string, options []Choice) *TurnOutput {
	return &TurnOutput{Prompt: &Prompt{Kind: PromptChoose, Text: text, Options: options}}
}

func notice(text string) *TurnOutput {
	return &TurnOutput{Prompt: &Prompt{Kind: PromptNotice, Text: text}}
}
