package plugin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/sentimemory/internal/provider"
	"github.com/hashicorp/go-plugin"
)

func dispense(t *testing.T, impl provider.Provider) provider.Provider {
	t.Helper()
	client, _ := plugin.TestPluginRPCConn(t, map[string]plugin.Plugin{
		ProviderPluginName: &ProviderPlugin{Impl: impl},
	}, nil)
	t.Cleanup(func() { client.Close() })

	raw, err := client.Dispense(ProviderPluginName)
	if err != nil {
		t.Fatalf("Dispense failed: %v", err)
	}
	p, ok := raw.(provider.Provider)
	if !ok {
		t.Fatalf("expected provider.Provider, got %T", raw)
	}
	return p
}

func TestProviderPlugin_Chat(t *testing.T) {
	stub := provider.NewStubText("hello from the plugin")
	p := dispense(t, stub)

	if p.Name() != "stub" {
		t.Errorf("expected name forwarded from plugin, got %q", p.Name())
	}

	resp, err := p.Chat(context.Background(), []provider.Message{
		{Role: provider.RoleSystem, Content: "be brief"},
		{Role: provider.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello from the plugin" || resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(stub.Requests) != 1 || len(stub.Requests[0]) != 2 || stub.Requests[0][1].Content != "hi" {
		t.Errorf("expected messages to reach the plugin, got %+v", stub.Requests)
	}
}

func TestProviderPlugin_Sampling(t *testing.T) {
	stub := provider.NewStubProvider()
	p := dispense(t, stub)
	msgs := []provider.Message{{Role: provider.RoleUser, Content: "hi"}}

	if _, err := p.Chat(context.Background(), msgs); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if _, err := p.Chat(context.Background(), msgs, provider.WithModelDefaults()); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if _, err := p.Chat(context.Background(), msgs, provider.WithMaxTokens(50), provider.WithTemperature(0)); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(stub.Sampling) != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", len(stub.Sampling))
	}
	reply := stub.Sampling[0]
	if reply.MaxTokens == nil || *reply.MaxTokens != provider.DefaultMaxTokens || reply.Temperature == nil || *reply.Temperature != provider.DefaultTemperature {
		t.Errorf("expected reply defaults to cross the boundary, got %+v", reply)
	}
	if unset := stub.Sampling[1]; unset.MaxTokens != nil || unset.Temperature != nil {
		t.Errorf("expected model defaults to stay unset, got %+v", unset)
	}
	explicit := stub.Sampling[2]
	if explicit.MaxTokens == nil || *explicit.MaxTokens != 50 {
		t.Errorf("expected max tokens 50, got %+v", explicit)
	}
	if explicit.Temperature == nil || *explicit.Temperature != 0 {
		t.Errorf("expected an explicit zero temperature, got %+v", explicit)
	}
}

func TestProviderPlugin_Error(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.FailNext(provider.ErrStubUnavailable)
	p := dispense(t, stub)

	_, err := p.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "stub provider unavailable") {
		t.Errorf("expected plugin error to cross the boundary, got %v", err)
	}
}

func TestProviderPlugin_Cancellation(t *testing.T) {
	stub := provider.NewStubText("late")
	stub.Delay = 2 * time.Second
	p := dispense(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("expected client to return on cancellation, took %v", time.Since(start))
	}
}

func TestProviderPlugin_ExpiredDeadline(t *testing.T) {
	p := &ProviderRPCClient{}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if _, err := p.Chat(ctx, nil); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestProviderPlugin_ServerRequiresImpl(t *testing.T) {
	if _, err := (&ProviderPlugin{}).Server(nil); err == nil {
		t.Error("expected error without implementation")
	}
}

func TestLaunch_MissingBinary(t *testing.T) {
	if _, _, err := Launch("/nonexistent/sentimemory-plugin"); err == nil {
		t.Error("expected error for missing plugin binary")
	}
}
