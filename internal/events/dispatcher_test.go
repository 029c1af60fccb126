package events

import (
	"context"
	"errors"
	"testing"

	"github.com/spec-kit/property-service/internal/domain"
)

func TestDispatcherRunsTypedAndWildcardHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var typed, all int
	d.Subscribe(EventTicketStatusChanged, func(context.Context, Event) error {
		typed++
		return errors.New("boom")
	})
	d.SubscribeAll(func(context.Context, Event) error {
		all++
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTicketStatusChanged})
	if err == nil {
		t.Fatalf("expected handler error to surface")
	}
	if typed != 1 || all != 1 {
		t.Fatalf("typed=%d all=%d", typed, all)
	}

	if err := d.Publish(context.Background(), Event{Type: EventTicketCreated}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typed != 1 || all != 2 {
		t.Fatalf("typed=%d all=%d", typed, all)
	}
}

func TestEventTypePrefix(t *testing.T) {
	if !EventTicketAssigned.HasPrefix("ticket.") {
		t.Fatalf("expected ticket prefix")
	}
	if EventJobEnqueued.HasPrefix("ticket.") {
		t.Fatalf("job event matched ticket prefix")
	}
}

func TestEventVisibility(t *testing.T) {
	contractor := "c-1"
	ticket := &domain.Ticket{ID: "t-1", CreatedBy: "tenant-1", ContractorID: &contractor}
	reassigned := Event{Type: EventTicketAssigned, Scope: TicketScope(ticket, "c-0", "c-1", "")}
	if len(reassigned.Scope.ContractorIDs) != 2 {
		t.Fatalf("scope = %+v, want previous and current contractor once each", reassigned.Scope)
	}
	unscoped := Event{Type: EventTicketTagsChanged}
	job := Event{Type: EventJobEnqueued}

	cases := []struct {
		event Event
		actor domain.Actor
		want  bool
	}{
		{reassigned, domain.Actor{ID: "tenant-1", Role: domain.RoleTenant}, true},
		{reassigned, domain.Actor{ID: "tenant-2", Role: domain.RoleTenant}, false},
		{reassigned, domain.Actor{ID: "c-0", Role: domain.RoleContractor}, true},
		{reassigned, domain.Actor{ID: "c-1", Role: domain.RoleContractor}, true},
		{reassigned, domain.Actor{ID: "c-2", Role: domain.RoleContractor}, false},
		// an id match under the wrong role does not count
		{reassigned, domain.Actor{ID: "c-1", Role: domain.RoleTenant}, false},
		{reassigned, domain.Actor{ID: "landlord-1", Role: domain.RoleLandlord}, true},
		{unscoped, domain.Actor{ID: "", Role: domain.RoleTenant}, false},
		{job, domain.Actor{ID: "landlord-1", Role: domain.RoleLandlord}, false},
		{job, domain.Actor{ID: "ops-1", Role: domain.RoleOps}, true},
	}
	for i, tc := range cases {
		if got := tc.event.VisibleTo(tc.actor); got != tc.want {
			t.Fatalf("case %d: %s visible to %+v = %v, want %v", i, tc.event.Type, tc.actor, got, tc.want)
		}
	}
}
