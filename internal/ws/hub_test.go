package ws

import "testing"

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()

	hub.AddClient(1, nil, ConnInfo{ConnID: "c1", UserID: 1})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected room to be created")
	}

	hub.RemoveClient(1, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected room to be removed")
	}
}

func TestHubRemoveUnknownClient(t *testing.T) {
	hub := NewHub()

	hub.RemoveClient(9, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected no rooms")
	}
}

func TestHubConnInfoLookup(t *testing.T) {
	hub := NewHub()
	hub.AddClient(3, nil, ConnInfo{ConnID: "abc", UserID: 3})

	info, ok := hub.getConnInfo(3, nil)
	if !ok || info.ConnID != "abc" {
		t.Fatalf("expected conn info to be stored")
	}
}
