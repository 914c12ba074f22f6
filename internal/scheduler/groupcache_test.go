package scheduler

import (
	"context"
	"errors"
	"testing"

	"alertbot/internal/transport"
)

func TestCacheResolvePopulatesOnce(t *testing.T) {
	t.Parallel()
	client := &fakeClient{chats: []transport.Chat{
		{ID: "c1", Name: "Alertas", IsGroup: true},
		{ID: "c2", Name: "Alertas", IsGroup: false}, // same name, direct chat
		{ID: "c3", Name: "Otro Grupo", IsGroup: true},
	}}
	c := NewCache(client)
	ctx := context.Background()

	id, found, err := c.Resolve(ctx, "Alertas")
	if err != nil || !found || id != "c1" {
		t.Fatalf("Resolve = %q, %v, %v", id, found, err)
	}
	// Second resolution is a cache hit, no enumeration.
	if _, _, err := c.Resolve(ctx, "Alertas"); err != nil {
		t.Fatal(err)
	}
	if client.chatCalls != 1 {
		t.Errorf("chat enumerations = %d, want 1", client.chatCalls)
	}
	if c.Len() != 1 {
		t.Errorf("cache len = %d", c.Len())
	}
}

func TestCacheResolveMissIsNotAnError(t *testing.T) {
	t.Parallel()
	client := &fakeClient{chats: []transport.Chat{{ID: "c1", Name: "Alertas", IsGroup: true}}}
	c := NewCache(client)

	id, found, err := c.Resolve(context.Background(), "Desconocido")
	if err != nil {
		t.Fatalf("miss returned error: %v", err)
	}
	if found || id != "" {
		t.Errorf("miss = %q, %v", id, found)
	}
	if c.Len() != 0 {
		t.Error("miss cached")
	}
}

func TestCacheResolvePropagatesEnumerationError(t *testing.T) {
	t.Parallel()
	want := errors.New("session gone")
	client := &fakeClient{chatsErr: want}
	c := NewCache(client)

	_, _, err := c.Resolve(context.Background(), "Alertas")
	if !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

func TestCacheEvictForcesReenumeration(t *testing.T) {
	t.Parallel()
	client := &fakeClient{chats: []transport.Chat{{ID: "c1", Name: "Alertas", IsGroup: true}}}
	c := NewCache(client)
	ctx := context.Background()

	if _, _, err := c.Resolve(ctx, "Alertas"); err != nil {
		t.Fatal(err)
	}
	c.Evict("Alertas")
	if c.Len() != 0 {
		t.Fatalf("cache len after evict = %d", c.Len())
	}

	// The group re-appears under a new handle.
	client.mu.Lock()
	client.chats = []transport.Chat{{ID: "c9", Name: "Alertas", IsGroup: true}}
	client.mu.Unlock()

	id, found, err := c.Resolve(ctx, "Alertas")
	if err != nil || !found || id != "c9" {
		t.Fatalf("Resolve after evict = %q, %v, %v", id, found, err)
	}
	if client.chatCalls != 2 {
		t.Errorf("chat enumerations = %d, want 2", client.chatCalls)
	}
}
