package liveevents

import (
	"testing"
	"time"

	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
)

func TestHubBroadcastReachesAccountAndOrganization(t *testing.T) {
	hub := NewHub()

	accountSub, backlog, err := hub.Subscribe(AccountKey("1"))
	if err != nil {
		t.Fatalf("subscribe account: %v", err)
	}
	defer accountSub.Close()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(backlog))
	}

	orgSub, _, err := hub.Subscribe(OrganizationKey("9"))
	if err != nil {
		t.Fatalf("subscribe org: %v", err)
	}
	defer orgSub.Close()

	hub.Broadcast(usagedomain.UsageRecord{EntryID: "e1", AccountID: "1", OrganizationID: "9"})

	for name, sub := range map[string]*Subscription{"account": accountSub, "organization": orgSub} {
		select {
		case rec := <-sub.Events():
			if rec.EntryID != "e1" {
				t.Fatalf("%s: unexpected record %q", name, rec.EntryID)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: record not delivered", name)
		}
	}
}

func TestHubBacklogForLateSubscriber(t *testing.T) {
	hub := NewHub()
	first, _, err := hub.Subscribe(AccountKey("1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer first.Close()

	for i := 0; i < DefaultBufferSize+5; i++ {
		hub.Publish(AccountKey("1"), usagedomain.UsageRecord{AccountID: "1"})
	}

	late, backlog, err := hub.Subscribe(AccountKey("1"))
	if err != nil {
		t.Fatalf("subscribe late: %v", err)
	}
	defer late.Close()
	if len(backlog) != DefaultBufferSize {
		t.Fatalf("expected backlog of %d, got %d", DefaultBufferSize, len(backlog))
	}
}

func TestHubDropsStreamAfterLastSubscriber(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe(AccountKey("1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	hub.Publish(AccountKey("1"), usagedomain.UsageRecord{AccountID: "1"})
	sub.Close()
	sub.Close()

	_, backlog, err := hub.Subscribe(AccountKey("1"))
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if len(backlog) != 0 {
		t.Fatalf("expected fresh stream, got backlog %d", len(backlog))
	}
}

func TestNilHub(t *testing.T) {
	var hub *Hub
	hub.Broadcast(usagedomain.UsageRecord{AccountID: "1"})
	if _, _, err := hub.Subscribe("account:1"); err != ErrHubUnavailable {
		t.Fatalf("expected ErrHubUnavailable, got %v", err)
	}
}
