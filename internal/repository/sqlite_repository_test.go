package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/persistence"
	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

func openTestDB(t *testing.T) *persistence.SQLite {
	t.Helper()
	db, err := persistence.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tickets.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func createTicket(t *testing.T, repo TicketRepository, owner uuid.UUID, message string) int64 {
	t.Helper()
	id, err := repo.Create(context.Background(), owner, domain.Context{"server": "eu-1"}, domain.NewAction(domain.ActionCreate, owner, message))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func loadOne(t *testing.T, repo TicketRepository, id int64) domain.Ticket {
	t.Helper()
	tickets, err := repo.LoadMany(context.Background(), []int64{id})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ticket, ok := tickets[id]
	if !ok {
		t.Fatalf("ticket %d missing", id)
	}
	return ticket
}

func TestCreateLoadRoundTrip(t *testing.T) {
	repo := NewSQLiteTicketRepository(openTestDB(t).DB)
	owner := uuid.New()

	id := createTicket(t, repo, owner, "help")
	ticket := loadOne(t, repo, id)

	if ticket.Status != domain.StatusOpen || ticket.Owner != owner || ticket.Message() != "help" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	if len(ticket.Actions) != 1 || ticket.Actions[0].Kind != domain.ActionCreate || ticket.Actions[0].Seq != 1 {
		t.Fatalf("unexpected actions %+v", ticket.Actions)
	}
	if ticket.Context["server"] != "eu-1" {
		t.Fatalf("context lost: %v", ticket.Context)
	}

	second := createTicket(t, repo, owner, "again")
	if second <= id {
		t.Fatalf("ids must increase, got %d after %d", second, id)
	}
}

func TestLoadManyOmitsUnknownIDs(t *testing.T) {
	repo := NewSQLiteTicketRepository(openTestDB(t).DB)
	id := createTicket(t, repo, uuid.New(), "help")

	tickets, err := repo.LoadMany(context.Background(), []int64{id, id + 100})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("expected only the existing ticket, got %d", len(tickets))
	}
}

func TestAppendActionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteTicketRepository(openTestDB(t).DB)
	owner, staff := uuid.New(), uuid.New()
	id := createTicket(t, repo, owner, "help")

	for _, kind := range []domain.ActionKind{domain.ActionClaim, domain.ActionClose, domain.ActionReopen, domain.ActionClose} {
		if err := repo.AppendAction(ctx, id, domain.NewAction(kind, staff, "")); err != nil {
			t.Fatalf("append %s: %v", kind, err)
		}
		ticket := loadOne(t, repo, id)
		if replayed := domain.CurrentStatus(ticket.Actions); replayed != ticket.Status {
			t.Fatalf("stored %s, replayed %s after %s", ticket.Status, replayed, kind)
		}
	}

	ticket := loadOne(t, repo, id)
	if ticket.Status != domain.StatusClosed {
		t.Fatalf("final status %s", ticket.Status)
	}
	if len(ticket.Actions) != 5 {
		t.Fatalf("expected 5 actions, got %d", len(ticket.Actions))
	}
	if ticket.Claimer != nil {
		t.Fatalf("reopen should have cleared claimer")
	}
}

func TestAppendActionErrors(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteTicketRepository(openTestDB(t).DB)
	owner := uuid.New()
	id := createTicket(t, repo, owner, "help")

	err := repo.AppendAction(ctx, id+42, domain.NewAction(domain.ActionClose, owner, ""))
	if !apperrors.HasCode(err, apperrors.CodeTicketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := repo.AppendAction(ctx, id, domain.NewAction(domain.ActionClose, owner, "")); err != nil {
		t.Fatalf("close: %v", err)
	}
	err = repo.AppendAction(ctx, id, domain.NewAction(domain.ActionClaim, owner, ""))
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if got := len(loadOne(t, repo, id).Actions); got != 2 {
		t.Fatalf("rejected action must not be stored, have %d actions", got)
	}

	stale := domain.NewAction(domain.ActionNote, owner, "late")
	stale.Seq = 2
	err = repo.AppendAction(ctx, id, stale)
	if !apperrors.HasCode(err, apperrors.CodeConcurrentModificationLost) {
		t.Fatalf("expected lost modification for stale seq, got %v", err)
	}
}

func TestSaveActionsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteTicketRepository(openTestDB(t).DB)
	owner := uuid.New()
	id := createTicket(t, repo, owner, "help")

	notes := []domain.Action{
		{TicketID: id, Kind: domain.ActionNote, Actor: owner, At: time.Now(), Message: "one"},
		{TicketID: id, Kind: domain.ActionNote, Actor: owner, At: time.Now(), Message: "two"},
	}
	if err := repo.SaveActions(ctx, notes); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := len(loadOne(t, repo, id).Actions); got != 3 {
		t.Fatalf("expected 3 actions, got %d", got)
	}

	broken := []domain.Action{
		{TicketID: id, Kind: domain.ActionNote, Actor: owner, At: time.Now(), Message: "three"},
		{TicketID: id, Kind: domain.ActionReopen, Actor: owner, At: time.Now()},
	}
	if err := repo.SaveActions(ctx, broken); err == nil {
		t.Fatalf("reopen of an open ticket should fail the batch")
	}
	if got := len(loadOne(t, repo, id).Actions); got != 3 {
		t.Fatalf("failed batch leaked actions, have %d", got)
	}
}

func TestQueriesAndCounts(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteTicketRepository(openTestDB(t).DB)
	alice, bob, staff := uuid.New(), uuid.New(), uuid.New()

	a1 := createTicket(t, repo, alice, "a1")
	a2 := createTicket(t, repo, alice, "a2")
	b1 := createTicket(t, repo, bob, "b1")

	if err := repo.AppendAction(ctx, a2, domain.NewAction(domain.ActionClaim, staff, "")); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.AppendAction(ctx, b1, domain.NewAction(domain.ActionClose, staff, "")); err != nil {
		t.Fatalf("close: %v", err)
	}

	mine, err := repo.QueryByOwner(ctx, alice, domain.ActiveStatuses)
	if err != nil {
		t.Fatalf("query owner: %v", err)
	}
	if len(mine) != 2 || mine[a1].ID != a1 || mine[a2].Status != domain.StatusClaimed {
		t.Fatalf("unexpected owner result %+v", mine)
	}

	active, err := repo.CountByStatus(ctx, domain.ActiveStatuses)
	if err != nil || active != 2 {
		t.Fatalf("active count = %d, %v", active, err)
	}
	all, err := repo.CountByStatus(ctx, nil)
	if err != nil || all != 3 {
		t.Fatalf("total count = %d, %v", all, err)
	}

	closed, err := repo.QueryByStatus(ctx, []domain.Status{domain.StatusClosed}, 10)
	if err != nil || len(closed) != 1 || closed[0].ID != b1 {
		t.Fatalf("closed query = %+v, %v", closed, err)
	}

	stats, err := repo.StatsByOwner(ctx, &alice)
	if err != nil || stats[domain.StatusOpen] != 1 || stats[domain.StatusClaimed] != 1 {
		t.Fatalf("alice stats = %v, %v", stats, err)
	}
}

func TestHighscores(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteTicketRepository(openTestDB(t).DB)
	owner, staff := uuid.New(), uuid.New()

	for i := 0; i < 2; i++ {
		id := createTicket(t, repo, owner, "help")
		if err := repo.AppendAction(ctx, id, domain.NewAction(domain.ActionClaim, staff, "")); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := repo.AppendAction(ctx, id, domain.NewAction(domain.ActionClose, staff, "")); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	unclaimed := createTicket(t, repo, owner, "closed by owner")
	if err := repo.AppendAction(ctx, unclaimed, domain.NewAction(domain.ActionClose, owner, "")); err != nil {
		t.Fatalf("close: %v", err)
	}

	scores, err := repo.Highscores(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("highscores: %v", err)
	}
	if len(scores) != 1 || scores[staff] != 2 {
		t.Fatalf("unexpected scores %v", scores)
	}

	scores, err = repo.Highscores(ctx, time.Now().Add(time.Hour))
	if err != nil || len(scores) != 0 {
		t.Fatalf("future window should be empty: %v, %v", scores, err)
	}
}

func TestConcurrentAppendsOnDifferentTickets(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteTicketRepository(openTestDB(t).DB)
	owner := uuid.New()

	ids := make([]int64, 8)
	for i := range ids {
		ids[i] = createTicket(t, repo, owner, "help")
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			errs <- repo.AppendAction(ctx, id, domain.NewAction(domain.ActionClaim, uuid.New(), ""))
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	claimed, err := repo.CountByStatus(ctx, []domain.Status{domain.StatusClaimed})
	if err != nil || claimed != len(ids) {
		t.Fatalf("claimed = %d, %v", claimed, err)
	}
}

func TestNotificationQueue(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteNotificationRepository(openTestDB(t).DB)
	user := domain.UserRecipient(uuid.New())
	sink := domain.IntegrationRecipient("webhook")

	base := time.Now().UTC()
	first := domain.PendingNotification{ID: uuid.New(), Recipient: user, TicketID: 1, Payload: []byte{1}, CreatedAt: base}
	second := domain.PendingNotification{ID: uuid.New(), Recipient: user, TicketID: 2, Payload: []byte{2}, CreatedAt: base.Add(time.Second)}
	other := domain.PendingNotification{ID: uuid.New(), Recipient: sink, TicketID: 1, Payload: []byte{3}, CreatedAt: base}
	for _, n := range []domain.PendingNotification{second, first, other} {
		if err := repo.Enqueue(ctx, n); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	queued, err := repo.ListByRecipient(ctx, user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(queued) != 2 || queued[0].ID != first.ID || queued[1].ID != second.ID {
		t.Fatalf("queue not ordered oldest first: %+v", queued)
	}
	if string(queued[1].Payload) != string(second.Payload) || queued[1].Recipient != user {
		t.Fatalf("payload or recipient lost: %+v", queued[1])
	}

	if err := repo.IncrementAttempts(ctx, first.ID); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := repo.IncrementAttempts(ctx, uuid.New()); err == nil {
		t.Fatalf("incrementing an unknown id should fail")
	}
	if err := repo.Delete(ctx, second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	queued, _ = repo.ListByRecipient(ctx, user)
	if len(queued) != 1 || queued[0].Attempts != 1 {
		t.Fatalf("unexpected queue %+v", queued)
	}

	sinks, err := repo.Recipients(ctx, domain.RecipientIntegration)
	if err != nil || len(sinks) != 1 || sinks[0] != sink {
		t.Fatalf("recipients = %v, %v", sinks, err)
	}
}

func TestSettingsDefaultsAndSave(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteSettingsRepository(openTestDB(t).DB)
	user := uuid.New()

	settings, err := repo.Get(ctx, user)
	if err != nil || !settings.Announcements {
		t.Fatalf("default settings = %+v, %v", settings, err)
	}
	if err := repo.Save(ctx, domain.UserSettings{UserID: user, Announcements: false}); err != nil {
		t.Fatalf("save: %v", err)
	}
	settings, err = repo.Get(ctx, user)
	if err != nil || settings.Announcements {
		t.Fatalf("saved settings = %+v, %v", settings, err)
	}
}
