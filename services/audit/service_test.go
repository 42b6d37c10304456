package audit

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"apextrade-backend/pkg/errutil"
	"apextrade-backend/services/testutil"
)

func newTestService(t *testing.T) (*Service, *Hub) {
	t.Helper()
	svc, hub, _ := newTestServiceDB(t)
	return svc, hub
}

func newTestServiceDB(t *testing.T) (*Service, *Hub, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &AuditEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	hub := NewHub()
	return NewService(ServiceParams{DB: db, Node: node, Clock: testutil.NewClock(), Hub: hub}), hub, db
}

func TestRecordPersistsAndPublishes(t *testing.T) {
	svc, hub := newTestService(t)
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	svc.Record(context.Background(), ActorClient, InvestmentCreated, map[string]any{"investment_id": "inv_1"})

	select {
	case ev := <-sub.C:
		require.Equal(t, InvestmentCreated, ev.Type)
		require.Equal(t, "inv_1", ev.String("investment_id"))
		require.Empty(t, ev.String("missing"))
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	events, err := svc.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, ActorClient, events[0].Actor)
	require.JSONEq(t, `{"investment_id":"inv_1"}`, string(events[0].Payload))
}

func TestListNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	clk := svc.clock.(interface{ Advance(time.Duration) time.Time })

	for _, typ := range []string{InvestmentCreated, InvestmentConfirmed, InvestmentActivated} {
		svc.Record(context.Background(), ActorSystem, typ, nil)
		clk.Advance(time.Second)
	}

	events, err := svc.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, InvestmentActivated, events[0].Type)
	require.Equal(t, InvestmentConfirmed, events[1].Type)
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe()
	require.Equal(t, 1, hub.Len())

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(Event{Type: SystemUpdated})
	}
	require.Len(t, slow.C, subscriberBuffer)

	hub.Unsubscribe(slow)
	hub.Unsubscribe(slow)
	require.Equal(t, 0, hub.Len())

	_, open := <-slow.C
	for open {
		_, open = <-slow.C
	}
}

func TestRecordSurvivesStorageFailure(t *testing.T) {
	svc, hub, db := newTestServiceDB(t)
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	require.NoError(t, db.Migrator().DropTable(&AuditEvent{}))

	svc.Record(context.Background(), ActorAdmin, SystemUpdated, map[string]any{"maintenance": true})

	select {
	case ev := <-sub.C:
		require.Equal(t, SystemUpdated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	_, err := svc.List(context.Background(), 10)
	require.ErrorIs(t, err, errutil.ErrStorage)
}

func TestLateSubscriberGetsNoBacklog(t *testing.T) {
	svc, hub := newTestService(t)

	svc.Record(context.Background(), ActorClient, InvestmentCreated, nil)

	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	require.Len(t, sub.C, 0)

	svc.Record(context.Background(), ActorClient, InvestmentConfirmed, nil)
	require.Len(t, sub.C, 1)
	require.Equal(t, InvestmentConfirmed, (<-sub.C).Type)
}

func TestBridgeDeliversAcrossProcesses(t *testing.T) {
	db := testutil.NewTestDB(t, &AuditEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	relay := testutil.NewRelay()
	clk := testutil.NewClock()

	newProcess := func(origin string) (*Service, *Hub, *Bridge) {
		hub := NewHub()
		bridge := NewBridge(origin, relay, hub)
		svc := NewService(ServiceParams{DB: db, Node: node, Clock: clk, Hub: hub, Bridge: bridge})
		return svc, hub, bridge
	}
	_, apiHub, apiBridge := newProcess("api")
	worker, workerHub, _ := newProcess("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = apiBridge.Run(ctx) }()
	require.Eventually(t, func() bool { return relay.Listeners() == 1 }, time.Second, 10*time.Millisecond)

	apiSub := apiHub.Subscribe()
	defer apiHub.Unsubscribe(apiSub)
	workerSub := workerHub.Subscribe()
	defer workerHub.Unsubscribe(workerSub)

	worker.Record(context.Background(), ActorSystem, InvestmentCompleted, map[string]any{"investment_id": "inv_1"})

	select {
	case ev := <-apiSub.C:
		require.Equal(t, InvestmentCompleted, ev.Type)
		require.Equal(t, "inv_1", ev.String("investment_id"))
	case <-time.After(time.Second):
		t.Fatal("worker event did not reach the api hub")
	}
	require.Len(t, workerSub.C, 1)
	require.Len(t, apiSub.C, 0)
}

func TestBridgeSkipsOwnEvents(t *testing.T) {
	relay := testutil.NewRelay()
	hub := NewHub()
	bridge := NewBridge("api", relay, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bridge.Run(ctx) }()
	require.Eventually(t, func() bool { return relay.Listeners() == 1 }, time.Second, 10*time.Millisecond)

	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	require.NoError(t, bridge.Forward(ctx, Event{ID: "evt_1", Type: SystemUpdated}))
	require.Len(t, sub.C, 0)

	bridge.receive([]byte("not json"))
	require.Len(t, sub.C, 0)

	other := NewBridge("worker", relay, NewHub())
	require.NoError(t, other.Forward(ctx, Event{ID: "evt_2", Type: SystemUpdated}))
	require.Len(t, sub.C, 1)
}
