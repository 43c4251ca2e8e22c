package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGatewayRegistryEmptyPick(t *testing.T) {
	_, err := NewRegistry().Pick(context.Background(), "")
	if !errors.Is(err, ErrNoGateways) {
		t.Errorf("expected ErrNoGateways, got %v", err)
	}
	if !strings.Contains(err.Error(), "No gateways configured") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestGatewayRegistryRejectsDuplicate(t *testing.T) {
	id, _ := LoadOrCreateIdentity(filepath.Join(t.TempDir(), "id.json"))
	reg := NewRegistry()
	if err := reg.Add(NewClient(Config{Name: "g", URL: "ws://x"}, id)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(NewClient(Config{Name: "g", URL: "ws://y"}, id)); err == nil {
		t.Error("duplicate gateway name accepted")
	}
}

func TestGatewayRegistryPickPrefersConnected(t *testing.T) {
	gw := newFakeGateway(t, "", nil)
	id := testIdentity(t)

	reg := NewRegistry()
	reg.connectBackoff = 10 * time.Millisecond
	live := NewClient(Config{Name: "live", URL: gw.url()}, id)
	if err := reg.Add(live); err != nil {
		t.Fatal(err)
	}
	if err := live.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	picked, err := reg.Pick(context.Background(), "")
	if err != nil {
		t.Fatalf("pick failed: %v", err)
	}
	if picked != live {
		t.Error("pick did not return the connected client")
	}
}

func TestGatewayRegistryPickPreferred(t *testing.T) {
	gwA := newFakeGateway(t, "", nil)
	gwB := newFakeGateway(t, "", nil)
	id := testIdentity(t)

	reg := NewRegistry()
	reg.connectBackoff = 10 * time.Millisecond
	reg.Add(NewClient(Config{Name: "a", URL: gwA.url()}, id))
	reg.Add(NewClient(Config{Name: "b", URL: gwB.url()}, id))

	picked, err := reg.Pick(context.Background(), "b")
	if err != nil {
		t.Fatalf("pick failed: %v", err)
	}
	if picked.Name() != "b" {
		t.Errorf("preferred gateway ignored, picked %s", picked.Name())
	}
}

func TestGatewayRegistryPickAllFailReturnsLastError(t *testing.T) {
	id := testIdentity(t)
	reg := NewRegistry()
	reg.connectAttempts = 1
	reg.connectBackoff = time.Millisecond
	reg.Add(NewClient(Config{Name: "dead", URL: "ws://127.0.0.1:1"}, id))

	_, err := reg.Pick(context.Background(), "")
	if err == nil {
		t.Fatal("expected pick to fail")
	}
	// The last connect error surfaces as-is, without wrapper text.
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Errorf("expected the client's *Error, got %T", err)
	}
	if !strings.Contains(err.Error(), "failed to dial") {
		t.Errorf("unexpected message: %v", err)
	}
	if strings.Contains(err.Error(), "all gateways") {
		t.Errorf("error carries invented wrapper text: %v", err)
	}
}

func TestGatewayRegistryNames(t *testing.T) {
	id, _ := LoadOrCreateIdentity(filepath.Join(t.TempDir(), "id.json"))
	reg := NewRegistry()
	reg.Add(NewClient(Config{Name: "one", URL: "ws://1"}, id))
	reg.Add(NewClient(Config{Name: "two", URL: "ws://2"}, id))

	names := reg.Names()
	if len(names) != 2 || names[0] != "one" || names[1] != "two" {
		t.Errorf("unexpected names: %v", names)
	}
}
