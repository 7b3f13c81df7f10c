// Package engine implements the deterministic conversational workflow engine
// behind the scheduling assistant: per-session state, the confirmation gate,
// patient disambiguation, and the step executors for the book, register,
// cancel, and reschedule flows. Natural-language understanding and the EMR
// internals live outside; the engine consumes extracted facts and emits
// structured prompts.
package engine

import (
	"context"
	"fmt"

	"github.com/wavelinehealth/frontdesk/internal/emr"
	"github.com/wavelinehealth/frontdesk/internal/observability/metrics"
	"github.com/wavelinehealth/frontdesk/pkg/logging"
)

const (
	defaultIdentityDenyLimit = 2
	defaultSlotPresentLimit  = 3

	// maxStepHops bounds the internal advance loop within a single turn.
	maxStepHops = 16
)

// stepFunc executes one step. It returns a TurnOutput when the turn must
// suspend (prompt or terminal) and (nil, nil) to continue to the next step.
type stepFunc func(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error)

// Engine drives the session state machine. It is stateless between calls;
// everything lives in the State passed to Turn, so one engine instance serves
// any number of concurrent sessions.
type Engine struct {
	gw      emr.Gateway
	logger  *logging.Logger
	metrics *metrics.EngineMetrics

	identityDenyLimit int
	slotPresentLimit  int

	steps map[Flow]map[Step]stepFunc
}

// Option configures the engine.
type Option func(*Engine)

// WithIdentityDenyLimit bounds how many denied identity confirmations are
// tolerated before the flow terminates with a cannot-verify outcome.
func WithIdentityDenyLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.identityDenyLimit = limit
		}
	}
}

// WithSlotPresentLimit overrides how many slots are presented after a search.
func WithSlotPresentLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.slotPresentLimit = limit
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates a workflow engine over the supplied tool gateway.
func New(gw emr.Gateway, logger *logging.Logger, opts ...Option) *Engine {
	if gw == nil {
		panic("engine: gateway cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	e := &Engine{
		gw:                gw,
		logger:            logger,
		identityDenyLimit: defaultIdentityDenyLimit,
		slotPresentLimit:  defaultSlotPresentLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.steps = e.buildStepTable()
	return e
}

// Turn processes one user turn against a session. The caller is responsible
// for serializing turns of the same session; distinct sessions may run
// concurrently.
func (e *Engine) Turn(ctx context.Context, st *State, in TurnInput) (*TurnOutput, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil session state", ErrInvariant)
	}
	if st.Outcome != OutcomeNone {
		return nil, ErrSessionClosed
	}
	e.metrics.ObserveTurn(string(st.Flow))

	if in.Abort {
		st.discardCollected()
		return e.terminate(st, OutcomeAborted, msgAborted), nil
	}

	// Merge newly extracted facts. Confirmed facts are immutable; late
	// arrivals for an already-confirmed key are dropped.
	for key, value := range in.Facts {
		if value == "" {
			continue
		}
		if _, ok := st.Confirmed[key]; ok {
			continue
		}
		st.Collected[key] = value
	}

	if st.OfferRegister {
		out, err := e.resolveRegisterOffer(st, &in)
		if out != nil || err != nil {
			return out, err
		}
	} else if st.Pending != nil {
		out, err := e.resolvePending(ctx, st, &in)
		if out != nil || err != nil {
			return out, err
		}
	}

	if st.Flow == FlowNone {
		flow := flowForIntent(in.Intent)
		if flow == FlowNone {
			return notice(msgAskIntent), nil
		}
		st.Flow = flow
		st.Step = StepCollectIdentity
	}

	return e.advance(ctx, st, &in)
}

// advance runs step functions until one suspends the turn.
func (e *Engine) advance(ctx context.Context, st *State, in *TurnInput) (*TurnOutput, error) {
	for hops := 0; hops < maxStepHops; hops++ {
		flowSteps, ok := e.steps[st.Flow]
		if !ok {
			return nil, fmt.Errorf("%w: unknown flow %q", ErrInvariant, st.Flow)
		}
		fn, ok := flowSteps[st.Step]
		if !ok {
			return nil, fmt.Errorf("%w: flow %q has no step %q", ErrInvariant, st.Flow, st.Step)
		}
		out, err := fn(ctx, st, in)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: step loop did not converge", ErrInvariant)
}

func (e *Engine) buildStepTable() map[Flow]map[Step]stepFunc {
	identity := map[Step]stepFunc{
		StepCollectIdentity: e.stepCollectIdentity,
		StepLookupPatient:   e.stepLookupPatient,
	}

	book := map[Step]stepFunc{
		StepCollectReason:   e.stepCollectReason,
		StepFetchCategories: e.stepFetchCategories,
		StepSelectCategory:  e.stepSelectCategory,
		StepFetchEvents:     e.stepFetchEvents,
		StepSelectEvent:     e.stepSelectEvent,
		StepCollectDate:     e.stepCollectDate,
		StepFetchSlots:      e.stepFetchSlots,
		StepSelectSlot:      e.stepSelectSlot,
		StepFinalReadback:   e.stepFinalReadback,
	}
	for step, fn := range identity {
		book[step] = fn
	}

	register := map[Step]stepFunc{
		StepCollectSex:     e.stepCollectSex,
		StepCollectPhone:   e.stepCollectPhone,
		StepCollectEmail:   e.stepCollectEmail,
		StepConfirmDetails: e.stepConfirmDetails,
	}

	cancel := map[Step]stepFunc{
		StepVerifyPhone:       e.stepVerifyPhone,
		StepFetchAppointments: e.stepFetchAppointments,
		StepSelectAppointment: e.stepSelectCancelTarget,
	}
	for step, fn := range identity {
		cancel[step] = fn
	}

	reschedule := map[Step]stepFunc{
		StepVerifyPhone:       e.stepVerifyPhone,
		StepFetchAppointments: e.stepFetchAppointments,
		StepSelectAppointment: e.stepSelectRescheduleTarget,
		StepCollectNewDate:    e.stepCollectNewDate,
		StepFetchNewSlots:     e.stepFetchNewSlots,
		StepSelectNewSlot:     e.stepSelectNewSlot,
		StepConfirmReschedule: e.stepConfirmReschedule,
	}
	for step, fn := range identity {
		reschedule[step] = fn
	}

	return map[Flow]map[Step]stepFunc{
		FlowBook:       book,
		FlowRegister:   register,
		FlowCancel:     cancel,
		FlowReschedule: reschedule,
	}
}

// terminate closes the session with a specific, user-facing explanation.
func (e *Engine) terminate(st *State, outcome Outcome, message string) *TurnOutput {
	st.Outcome = outcome
	st.Step = StepDone
	st.Pending = nil
	e.metrics.ObserveOutcome(string(st.Flow), string(outcome))
	e.logger.Info("flow terminated",
		"session_id", st.SessionID,
		"flow", st.Flow,
		"outcome", outcome,
	)
	return &TurnOutput{
		Prompt:  &Prompt{Kind: PromptNotice, Text: message},
		Done:    true,
		Outcome: outcome,
	}
}

// toolFault reports a transport/server error from the gateway. The step is
// left unchanged and is not retried automatically; the user must re-initiate.
func (e *Engine) toolFault(st *State, operation string, err error) *TurnOutput {
	e.metrics.ObserveToolCall(operation, "error")
	e.logger.Error("tool call failed",
		"session_id", st.SessionID,
		"flow", st.Flow,
		"step", st.Step,
		"operation", operation,
		"error", err,
	)
	return notice(msgToolFault)
}

// takeSelection consumes the 1-based selection from the turn input, returning
// 0 when no usable selection is present.
func takeSelection(in *TurnInput, max int) int {
	sel := in.Selection
	in.Selection = 0
	if sel < 1 || sel > max {
		return 0
	}
	return sel
}
