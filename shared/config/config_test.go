package config

import "testing"

func TestParseCSV(t *testing.T) {
	got := parseCSV("broker-1:9092, broker-2:9092, ,,")
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0] != "broker-1:9092" || got[1] != "broker-2:9092" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestLoadDefaultsAdapter(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("EVENT_BUS_ADAPTER", "")
	cfg, _ := Load("api", 8080)
	if cfg.EventBusAdapter != BusAdapterInProc {
		t.Fatalf("expected inproc default, got %q", cfg.EventBusAdapter)
	}
}

func TestLoadKafkaAdapterRequiresBrokers(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("EVENT_BUS_ADAPTER", "kafka")
	t.Setenv("KAFKA_BROKERS", "")
	_, problems := Load("api", 8080)
	found := false
	for _, p := range problems {
		if p.Field == "KAFKA_BROKERS" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected KAFKA_BROKERS problem, got %#v", problems)
	}
}

func TestLoadRejectsUnknownAdapter(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("EVENT_BUS_ADAPTER", "rabbitmq")
	cfg, problems := Load("api", 8080)
	if cfg.EventBusAdapter != BusAdapterInProc {
		t.Fatalf("expected fallback to inproc, got %q", cfg.EventBusAdapter)
	}
	if len(problems) == 0 {
		t.Fatalf("expected a problem for unknown adapter")
	}
}
