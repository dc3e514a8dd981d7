package otel

import (
	"context"
	"errors"
	"testing"
)

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "stakingd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =skip,tenant=ledger")
	if len(headers) != 2 || headers["api-key"] != "abc" || headers["tenant"] != "ledger" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestSamplerBounds(t *testing.T) {
	if sampler(0).Description() != sampler(1).Description() {
		t.Fatalf("out-of-range ratios should keep every span")
	}
	if sampler(0.25).Description() == sampler(1).Description() {
		t.Fatalf("ratio sampler not applied")
	}
}

func TestShutdownAllJoinsErrors(t *testing.T) {
	var order []int
	first := errors.New("first")
	shutdown := shutdownAll([]ShutdownFunc{
		func(context.Context) error { order = append(order, 1); return first },
		func(context.Context) error { order = append(order, 2); return nil },
	})
	err := shutdown(context.Background())
	if !errors.Is(err, first) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(order) != 2 || order[0] != 2 {
		t.Fatalf("providers should stop in reverse order, got %v", order)
	}
}
