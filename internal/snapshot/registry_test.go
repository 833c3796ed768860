package snapshot

import (
	"strings"
	"testing"
)

type widgetState struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (*widgetState) Kind() string { return "test.widget" }

func TestRegistryRoundTrip(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("test.widget", func() State { return new(widgetState) }); err != nil {
		t.Fatalf("register: %v", err)
	}

	payload, err := Encode(&widgetState{Name: "w", Count: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := registry.Decode("test.widget", payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	widget, ok := decoded.(*widgetState)
	if !ok {
		t.Fatalf("unexpected type %T", decoded)
	}
	if widget.Name != "w" || widget.Count != 3 {
		t.Fatalf("unexpected state: %+v", widget)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	factory := func() State { return new(widgetState) }
	if err := registry.Register("test.widget", factory); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := registry.Register("test.widget", factory)
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate registration error, got %v", err)
	}
}

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("", func() State { return new(widgetState) }); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if err := registry.Register("test.widget", nil); err == nil {
		t.Fatalf("expected error for nil factory")
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.New("missing"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := registry.Decode("missing", []byte("{}")); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestRegistryKindsSorted(t *testing.T) {
	registry := NewRegistry()
	for _, kind := range []string{"b", "a", "c"} {
		if err := registry.Register(kind, func() State { return new(widgetState) }); err != nil {
			t.Fatalf("register %s: %v", kind, err)
		}
	}
	kinds := registry.Kinds()
	if len(kinds) != 3 || kinds[0] != "a" || kinds[1] != "b" || kinds[2] != "c" {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
}
