package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/events"
	"github.com/hgschmie/broccolai-tickets/internal/repository"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

func loadStored(t *testing.T, h *harness, id int64) domain.Ticket {
	t.Helper()
	tickets, err := h.tickets.LoadMany(context.Background(), []int64{id})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ticket, ok := tickets[id]
	if !ok {
		t.Fatalf("ticket %d not stored", id)
	}
	return ticket
}

func create(t *testing.T, h *harness, owner uuid.UUID) domain.Ticket {
	t.Helper()
	res, err := h.modify.Create(context.Background(), owner, "help", domain.Context{}.WithPosition(domain.Position{World: "spawn", X: 1, Y: 64, Z: -3}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res.Ticket
}

func TestCreateThenLoad(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()

	created := create(t, h, owner)
	stored := loadStored(t, h, created.ID)

	if stored.Status != domain.StatusOpen || stored.Owner != owner || stored.Message() != "help" {
		t.Fatalf("unexpected ticket %+v", stored)
	}
	if len(stored.Actions) != 1 || stored.Actions[0].Kind != domain.ActionCreate {
		t.Fatalf("unexpected actions %+v", stored.Actions)
	}
	if pos, ok := stored.Context.Position(); !ok || pos.World != "spawn" || pos.Z != -3 {
		t.Fatalf("position lost: %v", stored.Context)
	}
	if got := h.recorded.kinds(); len(got) != 1 || got[0] != events.KindCreated {
		t.Fatalf("events = %v", got)
	}
}

func TestCreateRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t)
	_, err := h.modify.Create(context.Background(), uuid.New(), "   ", nil)
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	ticket := create(t, h, uuid.New())

	const claimers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.modify.Claim(context.Background(), uuid.New(), ticket.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperrors.HasCode(err, apperrors.CodeInvalidTransition):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || rejected != claimers-1 {
		t.Fatalf("wins=%d rejected=%d", wins, rejected)
	}
	stored := loadStored(t, h, ticket.ID)
	claims := 0
	for _, action := range stored.Actions {
		if action.Kind == domain.ActionClaim {
			claims++
		}
	}
	if claims != 1 || stored.Status != domain.StatusClaimed {
		t.Fatalf("claims=%d status=%s", claims, stored.Status)
	}
}

func TestClaimOnClosedTicketChangesNothing(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	ticket := create(t, h, owner)
	if _, err := h.modify.Close(context.Background(), owner, ticket.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	eventsBefore := len(h.recorded.kinds())

	_, err := h.modify.Claim(context.Background(), uuid.New(), ticket.ID)
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}

	stored := loadStored(t, h, ticket.ID)
	if len(stored.Actions) != 2 || stored.Status != domain.StatusClosed {
		t.Fatalf("storage changed: %+v", stored)
	}
	cached, err := h.read.Get(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cached.Version() != 2 || cached.Status != domain.StatusClosed {
		t.Fatalf("cache changed: %+v", cached)
	}
	if len(h.recorded.kinds()) != eventsBefore {
		t.Fatalf("event emitted for a rejected claim")
	}
}

func TestCloseReopenClose(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	ticket := create(t, h, owner)
	ctx := context.Background()

	for _, step := range []func(context.Context, uuid.UUID, int64) (Result, error){h.modify.Close, h.modify.Reopen, h.modify.Close} {
		if _, err := step(ctx, owner, ticket.ID); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	stored := loadStored(t, h, ticket.ID)
	want := []domain.ActionKind{domain.ActionCreate, domain.ActionClose, domain.ActionReopen, domain.ActionClose}
	if len(stored.Actions) != len(want) {
		t.Fatalf("actions = %+v", stored.Actions)
	}
	for i, kind := range want {
		if stored.Actions[i].Kind != kind || stored.Actions[i].Seq != i+1 {
			t.Fatalf("action %d = %+v", i, stored.Actions[i])
		}
	}
	if stored.Status != domain.StatusClosed || domain.CurrentStatus(stored.Actions) != stored.Status {
		t.Fatalf("status %s, replay %s", stored.Status, domain.CurrentStatus(stored.Actions))
	}
	wantEvents := []events.Kind{events.KindCreated, events.KindClosed, events.KindReopened, events.KindClosed}
	got := h.recorded.kinds()
	for i := range wantEvents {
		if got[i] != wantEvents[i] {
			t.Fatalf("events = %v", got)
		}
	}
}

func TestReadAfterWriteSeesNewStatus(t *testing.T) {
	h := newHarness(t)
	ticket := create(t, h, uuid.New())
	if _, err := h.read.Get(context.Background(), ticket.ID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	staff := uuid.New()
	res, err := h.modify.Claim(context.Background(), staff, ticket.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Action.Kind != domain.ActionClaim || res.Action.Seq != 2 {
		t.Fatalf("unexpected action %+v", res.Action)
	}

	cached, err := h.read.Get(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cached.Status != domain.StatusClaimed || cached.Claimer == nil || *cached.Claimer != staff {
		t.Fatalf("stale cache: %+v", cached)
	}
	if stored := loadStored(t, h, ticket.ID); stored.Status != domain.StatusClaimed {
		t.Fatalf("storage status %s", stored.Status)
	}
}

func TestCountMatchesReplayedStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	staff := uuid.New()

	var ids []int64
	for i := 0; i < 60; i++ {
		if len(ids) == 0 || rng.Intn(4) == 0 {
			ids = append(ids, create(t, h, uuid.New()).ID)
			continue
		}
		id := ids[rng.Intn(len(ids))]
		ops := []func(context.Context, uuid.UUID, int64) (Result, error){h.modify.Claim, h.modify.Unclaim, h.modify.Close, h.modify.Reopen}
		_, err := ops[rng.Intn(len(ops))](ctx, staff, id)
		if err != nil && !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
			t.Fatalf("op: %v", err)
		}
	}

	stored, err := h.tickets.LoadMany(ctx, ids)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	active := 0
	for _, ticket := range stored {
		replayed := domain.CurrentStatus(ticket.Actions)
		if replayed != ticket.Status {
			t.Fatalf("ticket %d drifted: stored %s, replay %s", ticket.ID, ticket.Status, replayed)
		}
		if replayed.Active() {
			active++
		}
	}

	count, err := h.read.Count(ctx, domain.ActiveStatuses)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != active {
		t.Fatalf("count=%d, replay says %d", count, active)
	}
}

type failingAppends struct {
	repository.TicketRepository
	err error
}

func (f failingAppends) AppendAction(context.Context, int64, domain.Action) error {
	return f.err
}

func TestStorageFailureEmitsNoEvent(t *testing.T) {
	db := openTestDB(t)
	backing := repository.NewSQLiteTicketRepository(db.DB)
	h := newHarnessOn(t, db, failingAppends{TicketRepository: backing, err: errors.New("disk on fire")})
	ticket := create(t, h, uuid.New())

	_, err := h.modify.Claim(context.Background(), uuid.New(), ticket.ID)
	if !apperrors.HasCode(err, apperrors.CodeStorageUnavailable) || !apperrors.IsRetryable(err) {
		t.Fatalf("expected retryable StorageUnavailable, got %v", err)
	}
	if got := h.recorded.kinds(); len(got) != 1 {
		t.Fatalf("events after failed write: %v", got)
	}
	current, err := h.read.Get(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != domain.StatusOpen {
		t.Fatalf("status = %s", current.Status)
	}
}

func TestStaleWriterLosesAndRecovers(t *testing.T) {
	db := openTestDB(t)
	tickets := repository.NewSQLiteTicketRepository(db.DB)
	a := newHarnessOn(t, db, tickets)
	b := newHarnessOn(t, db, tickets)

	ticket := create(t, a, uuid.New())
	if _, err := b.read.Get(context.Background(), ticket.ID); err != nil {
		t.Fatalf("warm b: %v", err)
	}
	if _, err := a.modify.Claim(context.Background(), uuid.New(), ticket.ID); err != nil {
		t.Fatalf("claim on a: %v", err)
	}

	_, err := b.modify.Claim(context.Background(), uuid.New(), ticket.ID)
	if !apperrors.HasCode(err, apperrors.CodeConcurrentModificationLost) {
		t.Fatalf("expected ConcurrentModificationLost, got %v", err)
	}

	_, err = b.modify.Claim(context.Background(), uuid.New(), ticket.ID)
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("retry should see the claim, got %v", err)
	}
}

func TestLockTimeoutIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.modify.lockTimeout = 20 * time.Millisecond
	ticket := create(t, h, uuid.New())

	release, err := h.locks.Acquire(context.Background(), ticketKey(ticket.ID))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = h.modify.Claim(context.Background(), uuid.New(), ticket.ID)
	if !apperrors.HasCode(err, apperrors.CodeConcurrentModificationLost) || !apperrors.IsRetryable(err) {
		t.Fatalf("expected retryable ConcurrentModificationLost, got %v", err)
	}
}

func TestUnknownTicket(t *testing.T) {
	h := newHarness(t)
	_, err := h.modify.Close(context.Background(), uuid.New(), 4242)
	if !apperrors.HasCode(err, apperrors.CodeTicketNotFound) {
		t.Fatalf("expected TicketNotFound, got %v", err)
	}
}

func TestNotesKeepStatus(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	ticket := create(t, h, owner)
	staff := uuid.New()

	res, err := h.modify.Note(context.Background(), staff, ticket.ID, "checked logs", " ", "asked for screenshot")
	if err != nil {
		t.Fatalf("note: %v", err)
	}
	if res.Ticket.Status != domain.StatusOpen || res.Action.Message != "asked for screenshot" || res.Action.Seq != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	stored := loadStored(t, h, ticket.ID)
	if len(stored.Actions) != 3 || stored.Status != domain.StatusOpen || stored.Message() != "help" {
		t.Fatalf("stored %+v", stored)
	}
	got := h.recorded.kinds()
	if len(got) != 3 || got[1] != events.KindNoted || got[2] != events.KindNoted {
		t.Fatalf("events = %v", got)
	}

	if _, err := h.modify.Note(context.Background(), staff, ticket.ID); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("empty note accepted: %v", err)
	}
}

func TestUpdateReplacesMessage(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	ticket := create(t, h, owner)

	res, err := h.modify.Update(context.Background(), owner, ticket.ID, "help, but clearer")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Ticket.Message() != "help, but clearer" || res.Action.Kind != domain.ActionEdit {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := h.recorded.kinds(); got[len(got)-1] != events.KindUpdated {
		t.Fatalf("events = %v", got)
	}
}
