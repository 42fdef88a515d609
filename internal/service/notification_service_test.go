package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hgschmie/broccolai-tickets/internal/domain"
	"github.com/hgschmie/broccolai-tickets/internal/events"
	"github.com/hgschmie/broccolai-tickets/internal/presence"
	"github.com/hgschmie/broccolai-tickets/internal/repository"
)

type captureDeliverer struct {
	mu   sync.Mutex
	got  map[string][]Notice
	fail bool
}

func newCapture() *captureDeliverer {
	return &captureDeliverer{got: make(map[string][]Notice)}
}

func (c *captureDeliverer) Deliver(_ context.Context, recipient domain.Recipient, notice Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("unreachable endpoint")
	}
	c.got[recipient.String()] = append(c.got[recipient.String()], notice)
	return nil
}

func (c *captureDeliverer) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *captureDeliverer) count(recipient domain.Recipient) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got[recipient.String()])
}

type notifyFixture struct {
	svc      *NotificationService
	pending  repository.NotificationRepository
	settings repository.SettingsRepository
	presence *presence.MemoryTracker
	users    *captureDeliverer
	sink     *captureDeliverer
	console  uuid.UUID
}

func newNotifyFixture(t *testing.T, withSink bool) *notifyFixture {
	t.Helper()
	db := openTestDB(t)
	f := &notifyFixture{
		pending:  repository.NewSQLiteNotificationRepository(db.DB),
		settings: repository.NewSQLiteSettingsRepository(db.DB),
		presence: presence.NewMemoryTracker(),
		users:    newCapture(),
		console:  uuid.New(),
	}
	deps := NotificationDependencies{
		PendingRepo:  f.pending,
		SettingsRepo: f.settings,
		Presence:     f.presence,
		Deliverer:    f.users,
		ConsoleUser:  f.console,
	}
	if withSink {
		f.sink = newCapture()
		deps.Sink = f.sink
		deps.SinkName = "webhook"
	}
	f.svc = NewNotificationService(deps)
	return f
}

func (f *notifyFixture) queued(t *testing.T, recipient domain.Recipient) []domain.PendingNotification {
	t.Helper()
	pending, err := f.pending.ListByRecipient(context.Background(), recipient)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	return pending
}

func claimEvent(t *testing.T, owner, staff uuid.UUID) events.LifecycleEvent {
	t.Helper()
	ticket := domain.Ticket{
		ID:      11,
		Owner:   owner,
		Status:  domain.StatusOpen,
		Actions: []domain.Action{domain.NewAction(domain.ActionCreate, owner, "stuck in a wall")},
	}
	next, err := ticket.Apply(domain.NewAction(domain.ActionClaim, staff, ""))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	ev, ok := events.NewLifecycleEvent(next, next.Actions[len(next.Actions)-1])
	if !ok {
		t.Fatalf("no event for claim")
	}
	return ev
}

func TestOfflineCreatorIsQueuedAndFlushedOnce(t *testing.T) {
	f := newNotifyFixture(t, false)
	ctx := context.Background()
	owner, staff := uuid.New(), uuid.New()
	creator := domain.UserRecipient(owner)

	if err := f.svc.Handle(ctx, claimEvent(t, owner, staff)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.queued(t, creator); len(got) != 1 || got[0].TicketID != 11 {
		t.Fatalf("pending = %+v", got)
	}
	if f.users.count(creator) != 0 {
		t.Fatalf("offline creator received a notice")
	}
	if got := f.queued(t, domain.UserRecipient(staff)); len(got) != 0 {
		t.Fatalf("actor was notified about their own action")
	}

	delivered, err := f.svc.Connect(ctx, owner, false)
	if err != nil || delivered != 1 {
		t.Fatalf("connect delivered %d, err %v", delivered, err)
	}
	if len(f.queued(t, creator)) != 0 || f.users.count(creator) != 1 {
		t.Fatalf("flush did not deliver and delete")
	}
	f.users.mu.Lock()
	notice := f.users.got[creator.String()][0]
	f.users.mu.Unlock()
	if notice.Kind != events.KindClaimed || notice.Role != RoleCreator || notice.Actor != staff || notice.Text == "" {
		t.Fatalf("unexpected notice %+v", notice)
	}

	if err := f.svc.Disconnect(ctx, owner); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if delivered, err := f.svc.Connect(ctx, owner, false); err != nil || delivered != 0 {
		t.Fatalf("second connect delivered %d, err %v", delivered, err)
	}
	if f.users.count(creator) != 1 {
		t.Fatalf("notice delivered twice")
	}
}

func TestOnlineCreatorIsNotifiedImmediately(t *testing.T) {
	f := newNotifyFixture(t, false)
	ctx := context.Background()
	owner, staff := uuid.New(), uuid.New()
	if err := f.presence.SetOnline(ctx, owner, false); err != nil {
		t.Fatalf("online: %v", err)
	}

	if err := f.svc.Handle(ctx, claimEvent(t, owner, staff)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.users.count(domain.UserRecipient(owner)) != 1 {
		t.Fatalf("online creator not notified")
	}
	if len(f.queued(t, domain.UserRecipient(owner))) != 0 {
		t.Fatalf("delivered notice was also queued")
	}
}

// connectingTracker lets the user connect while the first reachability check is in flight.
type connectingTracker struct {
	*presence.MemoryTracker
	once    sync.Once
	online  chan struct{}
	connect func()
}

func (c *connectingTracker) IsReachable(ctx context.Context, user uuid.UUID) (bool, error) {
	reachable, err := c.MemoryTracker.IsReachable(ctx, user)
	c.once.Do(func() {
		go c.connect()
		<-c.online
		time.Sleep(20 * time.Millisecond)
	})
	return reachable, err
}

func (c *connectingTracker) SetOnline(ctx context.Context, user uuid.UUID, staff bool) error {
	err := c.MemoryTracker.SetOnline(ctx, user, staff)
	close(c.online)
	return err
}

func TestConnectDuringDeliveryDoesNotStrandNotice(t *testing.T) {
	f := newNotifyFixture(t, false)
	ctx := context.Background()
	owner, staff := uuid.New(), uuid.New()
	creator := domain.UserRecipient(owner)

	tracker := &connectingTracker{MemoryTracker: presence.NewMemoryTracker(), online: make(chan struct{})}
	svc := NewNotificationService(NotificationDependencies{
		PendingRepo:  f.pending,
		SettingsRepo: f.settings,
		Presence:     tracker,
		Deliverer:    f.users,
	})
	type connectResult struct {
		delivered int
		err       error
	}
	done := make(chan connectResult, 1)
	tracker.connect = func() {
		delivered, err := svc.Connect(ctx, owner, false)
		done <- connectResult{delivered: delivered, err: err}
	}

	if err := svc.Handle(ctx, claimEvent(t, owner, staff)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var res connectResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("connect did not return")
	}
	if res.err != nil || res.delivered != 1 {
		t.Fatalf("connect delivered %d, err %v", res.delivered, res.err)
	}
	if got := f.queued(t, creator); len(got) != 0 {
		t.Fatalf("notice stranded in queue: %+v", got)
	}
	if f.users.count(creator) != 1 {
		t.Fatalf("creator received %d notices", f.users.count(creator))
	}
}

func TestStaffBroadcastSkipsOptOutAndOfflineStaff(t *testing.T) {
	f := newNotifyFixture(t, false)
	ctx := context.Background()
	owner, actor := uuid.New(), uuid.New()
	listening, muted, offline := uuid.New(), uuid.New(), uuid.New()

	for _, id := range []uuid.UUID{actor, listening, muted} {
		if err := f.presence.SetOnline(ctx, id, true); err != nil {
			t.Fatalf("online: %v", err)
		}
	}
	if _, err := NewSettingsService(f.settings).SetAnnouncements(ctx, muted, false); err != nil {
		t.Fatalf("settings: %v", err)
	}

	if err := f.svc.Handle(ctx, claimEvent(t, owner, actor)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.users.count(domain.UserRecipient(listening)) != 1 {
		t.Fatalf("listening staff not notified")
	}
	if f.users.count(domain.UserRecipient(muted)) != 0 {
		t.Fatalf("muted staff notified")
	}
	if f.users.count(domain.UserRecipient(actor)) != 0 {
		t.Fatalf("actor notified")
	}
	if len(f.queued(t, domain.UserRecipient(offline))) != 0 {
		t.Fatalf("offline staff got a pending entry")
	}
}

func TestIntegrationRetriesCountAttempts(t *testing.T) {
	f := newNotifyFixture(t, true)
	ctx := context.Background()
	sink := domain.IntegrationRecipient("webhook")
	f.sink.setFail(true)

	if err := f.svc.Handle(ctx, claimEvent(t, uuid.New(), uuid.New())); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.queued(t, sink); len(got) != 1 || got[0].Attempts != 0 {
		t.Fatalf("pending = %+v", got)
	}

	if err := f.svc.RetryIntegrations(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := f.queued(t, sink); len(got) != 1 || got[0].Attempts != 1 {
		t.Fatalf("attempts not counted: %+v", got)
	}

	f.sink.setFail(false)
	if err := f.svc.RetryIntegrations(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.queued(t, sink)) != 0 || f.sink.count(sink) != 1 {
		t.Fatalf("sink queue not drained")
	}
}

func TestConsoleUserIsNeverQueued(t *testing.T) {
	f := newNotifyFixture(t, false)
	ctx := context.Background()

	if err := f.svc.Handle(ctx, claimEvent(t, f.console, uuid.New())); err != nil {
		t.Fatalf("handle: %v", err)
	}
	console := domain.UserRecipient(f.console)
	if f.users.count(console) != 1 {
		t.Fatalf("console not notified")
	}
	if len(f.queued(t, console)) != 0 {
		t.Fatalf("console notice queued")
	}
}

func TestMutationNotifiesThroughDispatcher(t *testing.T) {
	h := newHarness(t)
	pending := repository.NewSQLiteNotificationRepository(h.db.DB)
	users := newCapture()
	dispatcher := events.NewInMemoryDispatcher(nil, nil)
	h.modify.dispatcher = dispatcher
	NewNotificationService(NotificationDependencies{
		PendingRepo: pending,
		Presence:    presence.NewMemoryTracker(),
		Deliverer:   users,
		Dispatcher:  dispatcher,
	}).RegisterHandlers()

	owner := uuid.New()
	ticket := create(t, h, owner)
	if _, err := h.modify.Close(context.Background(), uuid.New(), ticket.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	queued, err := pending.ListByRecipient(context.Background(), domain.UserRecipient(owner))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(queued) != 1 || queued[0].TicketID != ticket.ID {
		t.Fatalf("pending = %+v", queued)
	}
	if !queued[0].CreatedAt.Before(time.Now().Add(time.Second)) {
		t.Fatalf("bad created_at %v", queued[0].CreatedAt)
	}
}
