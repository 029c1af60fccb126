package realtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/property-service/internal/domain"
	"github.com/spec-kit/property-service/internal/events"
	apperrors "github.com/spec-kit/property-service/pkg/util/errorutil"
)

var opsActor = domain.Actor{ID: "ops-1", Role: domain.RoleOps}

func ticketEvent(id string) events.Event {
	return events.Event{
		ID:        "e-" + id,
		Type:      events.EventTicketStatusChanged,
		Resources: []events.ResourceRef{events.TicketRef(id)},
		ActorRole: domain.RoleOps,
		Version:   3,
		At:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestHubFansOutAndDropsForSlowSubscribers(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	hub := NewHub(dispatcher, 1, time.Minute, nil)

	fast, releaseFast := hub.Subscribe(opsActor)
	defer releaseFast()
	_, releaseSlow := hub.Subscribe(opsActor)
	defer releaseSlow()

	ctx := context.Background()
	_ = dispatcher.Publish(ctx, ticketEvent("t-1"))
	<-fast
	_ = dispatcher.Publish(ctx, ticketEvent("t-2"))

	if got := hub.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1 for the slow subscriber", got)
	}
	if ev := <-fast; ev.Resources[0].ID != "t-2" {
		t.Fatalf("fast subscriber got %+v", ev)
	}
}

func TestHubScopesEventsPerActor(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	hub := NewHub(dispatcher, 8, time.Minute, nil)

	subscribe := func(id string, role domain.Role) <-chan events.Event {
		ch, release := hub.Subscribe(domain.Actor{ID: id, Role: role})
		t.Cleanup(release)
		return ch
	}
	owner := subscribe("tenant-1", domain.RoleTenant)
	stranger := subscribe("tenant-2", domain.RoleTenant)
	contractor := subscribe("c-1", domain.RoleContractor)
	otherContractor := subscribe("c-2", domain.RoleContractor)
	landlord := subscribe("landlord-1", domain.RoleLandlord)
	ops := subscribe("ops-1", domain.RoleOps)

	contractorID := "c-1"
	ticket := &domain.Ticket{ID: "t-1", PropertyID: "prop-private", CreatedBy: "tenant-1", ContractorID: &contractorID}
	created := events.Event{
		ID:        "e-1",
		Type:      events.EventTicketCreated,
		Resources: []events.ResourceRef{events.TicketRef("t-1"), {Type: "property", ID: "prop-private"}},
		Scope:     events.TicketScope(ticket),
	}
	job := events.Event{ID: "e-2", Type: events.EventJobEnqueued, Resources: []events.ResourceRef{{Type: "job", ID: "9"}}}
	ctx := context.Background()
	_ = dispatcher.Publish(ctx, created)
	_ = dispatcher.Publish(ctx, job)

	cases := []struct {
		name string
		ch   <-chan events.Event
		want []string
	}{
		{"owner", owner, []string{"e-1"}},
		{"other tenant", stranger, nil},
		{"assigned contractor", contractor, []string{"e-1"}},
		{"other contractor", otherContractor, nil},
		{"landlord", landlord, []string{"e-1"}},
		{"ops", ops, []string{"e-1", "e-2"}},
	}
	for _, tc := range cases {
		var got []string
		for len(tc.ch) > 0 {
			got = append(got, (<-tc.ch).ID)
		}
		if fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Fatalf("%s received %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHubHandlerRequiresActor(t *testing.T) {
	hub := NewHub(nil, 1, time.Minute, nil)
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
	}})
	app.Get("/events", hub.Handler())
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/events", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("anonymous request must not subscribe")
	}
}

func TestHubReleaseAndClose(t *testing.T) {
	hub := NewHub(nil, 4, time.Minute, nil)
	ch, release := hub.Subscribe(opsActor)
	if hub.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", hub.Subscribers())
	}
	release()
	release()
	if _, open := <-ch; open {
		t.Fatalf("released channel should be closed")
	}

	other, _ := hub.Subscribe(opsActor)
	hub.Close()
	if _, open := <-other; open {
		t.Fatalf("close should disconnect subscribers")
	}
	late, _ := hub.Subscribe(opsActor)
	if _, open := <-late; open {
		t.Fatalf("subscribing after close should yield a closed channel")
	}
}

func TestHubStreamWritesFrames(t *testing.T) {
	hub := NewHub(nil, 4, time.Minute, nil)
	ch, release := hub.Subscribe(opsActor)
	_ = hub.broadcast(context.Background(), ticketEvent("t-1"))
	release()

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	hub.stream(w, ch)

	out := buf.String()
	if !strings.HasPrefix(out, ": connected\n\n") {
		t.Fatalf("stream should open with a comment: %q", out)
	}
	if !strings.Contains(out, "id: e-t-1\nevent: ticket.status_changed\ndata: {") {
		t.Fatalf("frame missing: %q", out)
	}
	if strings.Contains(out, "actorId") || strings.Contains(out, "Payload") {
		t.Fatalf("internal fields leaked: %q", out)
	}
}

func TestScannerParsesFrames(t *testing.T) {
	stream := ": keepalive\n\nid: 7\nevent: ticket.created\nretry: 2000\ndata: {\"a\":1}\ndata: {\"b\":2}\n\ndata: tail"
	sc := newScanner(strings.NewReader(stream))
	var frames []Frame
	for sc.Next() {
		frames = append(frames, sc.Frame())
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %+v", frames)
	}
	first := frames[0]
	if first.ID != "7" || first.Event != "ticket.created" || first.Retry != 2000 || first.Data != "{\"a\":1}\n{\"b\":2}" {
		t.Fatalf("first frame = %+v", first)
	}
	if frames[1].Data != "tail" {
		t.Fatalf("trailing frame = %+v", frames[1])
	}
}

func TestInvalidatorKeys(t *testing.T) {
	cache := NewKeyCache()
	inv := NewInvalidator(cache)

	keys := inv.Apply(ticketEvent("t-9"))
	if fmt.Sprint(keys) != "[tickets ticket:t-9 timeline:t-9]" {
		t.Fatalf("keys = %v", keys)
	}
	inv.Apply(ticketEvent("t-9"))
	if cache.Generation("ticket:t-9") != 2 {
		t.Fatalf("duplicate invalidation should be harmless and counted")
	}
	if keys := inv.Apply(events.Event{Type: events.EventJobEnqueued}); fmt.Sprint(keys) != "[jobs]" {
		t.Fatalf("job keys = %v", keys)
	}
	if keys := inv.Apply(events.Event{Type: "property.updated"}); len(keys) != 0 {
		t.Fatalf("unknown family should be ignored: %v", keys)
	}
}

func TestClientReconnectsAndInvalidates(t *testing.T) {
	var connections atomic.Int32
	var lastEventID atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		lastEventID.Store(r.Header.Get("Last-Event-ID"))
		w.Header().Set("Content-Type", "text/event-stream")
		var buf bytes.Buffer
		_ = writeEvent(&buf, ticketEvent(fmt.Sprintf("t-%d", n)))
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	cache := NewKeyCache()
	inv := NewInvalidator(cache)
	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(server.URL, nil, WithBackoff(time.Millisecond, 5*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx, func(ctx context.Context, frame Frame) error {
			if err := inv.HandleFrame(ctx, frame); err != nil {
				return err
			}
			if cache.Generation("ticket:t-2") > 0 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("client did not reconnect")
	}
	if cache.Generation("ticket:t-1") != 1 {
		t.Fatalf("first connection's event not applied")
	}
	if got, _ := lastEventID.Load().(string); got != "e-t-1" {
		t.Fatalf("Last-Event-ID on reconnect = %q", got)
	}
}
