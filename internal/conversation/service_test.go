package conversation

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelinehealth/frontdesk/internal/emr"
	"github.com/wavelinehealth/frontdesk/internal/engine"
	"github.com/wavelinehealth/frontdesk/internal/sessionstore"
	"github.com/wavelinehealth/frontdesk/pkg/logging"
)

// stubGateway answers every lookup with no match and fails everything else,
// which is enough to exercise session lifecycle.
type stubGateway struct {
	mu      sync.Mutex
	lookups int
}

func (g *stubGateway) LookupPatient(context.Context, emr.LookupRequest) (*emr.LookupResult, error) {
	g.mu.Lock()
	g.lookups++
	g.mu.Unlock()
	return &emr.LookupResult{Status: emr.LookupNone}, nil
}

func (g *stubGateway) CreatePatient(context.Context, emr.CreatePatientRequest) (string, error) {
	return "person-new", nil
}

func (g *stubGateway) ListAppointmentCategories(context.Context) ([]emr.AppointmentCategory, error) {
	return nil, nil
}

func (g *stubGateway) ListCategoryEvents(context.Context, string) ([]emr.CategoryEvent, error) {
	return nil, nil
}

func (g *stubGateway) FindAvailableSlots(context.Context, string, string) ([]emr.Slot, error) {
	return nil, nil
}

func (g *stubGateway) ListPatientAppointments(context.Context, string) ([]emr.Appointment, error) {
	return nil, nil
}

func (g *stubGateway) BookAppointment(context.Context, emr.BookingRequest) (string, error) {
	return "appt-1", nil
}

func (g *stubGateway) CancelAppointment(context.Context, string) error { return nil }

func (g *stubGateway) RescheduleAppointment(context.Context, emr.RescheduleRequest) (string, error) {
	return "appt-2", nil
}

func newTestService(t *testing.T) (Service, sessionstore.Store) {
	t.Helper()
	logger := logging.NewWithWriter("error", io.Discard)
	eng := engine.New(&stubGateway{}, logger)
	store := sessionstore.NewMemoryStore()
	return NewService(eng, store, nil, logger), store
}

func TestStartSessionPersistsState(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	sessionID, err := svc.StartSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	st, err := store.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, st.SessionID)
	assert.Equal(t, engine.FlowNone, st.Flow)
}

func TestHandleTurnPersistsBetweenTurns(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	sessionID, err := svc.StartSession(ctx)
	require.NoError(t, err)

	out, err := svc.HandleTurn(ctx, sessionID, engine.TurnInput{Intent: engine.IntentBook})
	require.NoError(t, err)
	require.Equal(t, engine.PromptAskFact, out.Prompt.Kind)

	st, err := store.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, engine.FlowBook, st.Flow)

	out, err = svc.HandleTurn(ctx, sessionID, engine.TurnInput{
		Facts: engine.Facts{engine.FactFirstName: "Ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.FactLastName, out.Prompt.Fact)
}

func TestHandleTurnUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.HandleTurn(context.Background(), "missing", engine.TurnInput{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTerminalTurnDeletesSession(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	sessionID, err := svc.StartSession(ctx)
	require.NoError(t, err)

	out, err := svc.HandleTurn(ctx, sessionID, engine.TurnInput{Abort: true})
	require.NoError(t, err)
	require.True(t, out.Done)
	assert.Equal(t, engine.OutcomeAborted, out.Outcome)

	_, err = store.Load(ctx, sessionID)
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)

	// A turn after termination behaves like an unknown session.
	_, err = svc.HandleTurn(ctx, sessionID, engine.TurnInput{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	const sessions = 8
	ids := make([]string, sessions)
	for i := range ids {
		id, err := svc.StartSession(ctx)
		require.NoError(t, err)
		ids[i] = id
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			_, err := svc.HandleTurn(ctx, sessionID, engine.TurnInput{Intent: engine.IntentBook})
			assert.NoError(t, err)
			_, err = svc.HandleTurn(ctx, sessionID, engine.TurnInput{
				Facts: engine.Facts{engine.FactFirstName: "Ada"},
			})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		st, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, engine.FlowBook, st.Flow)
		assert.Equal(t, "Ada", st.Collected[engine.FactFirstName])
	}
}

func TestSerialTurnsWithinSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sessionID, err := svc.StartSession(ctx)
	require.NoError(t, err)

	// Hammer one session from many goroutines; per-session locking must keep
	// every load-turn-save cycle atomic, so no turn's write is lost.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.HandleTurn(ctx, sessionID, engine.TurnInput{Intent: engine.IntentBook})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
