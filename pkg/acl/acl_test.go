package acl

import "testing"

func TestCanPublish_SensorRolesDeniedCommand(t *testing.T) {
	for _, role := range []Role{RoleAgent, RoleDPI} {
		if CanPublish(role, Command) {
			t.Fatalf("%s must never publish Command", role)
		}
		if CanPublish(role, Query) {
			t.Fatalf("%s must never publish Query", role)
		}
		if !CanPublish(role, Telemetry) || !CanPublish(role, Alert) || !CanPublish(role, Heartbeat) {
			t.Fatalf("%s must be able to publish Telemetry/Alert/Heartbeat", role)
		}
	}
}

func TestCanPublish_UIIsQueryOnly(t *testing.T) {
	if !CanPublish(RoleUI, Query) {
		t.Fatal("UI must be able to publish Query")
	}
	for _, mt := range []MessageType{Telemetry, Command, Alert, Heartbeat} {
		if CanPublish(RoleUI, mt) {
			t.Fatalf("UI must not publish %s", mt)
		}
	}
}

func TestCanPublish_GovernorDeniedTelemetry(t *testing.T) {
	if CanPublish(RoleGovernor, Telemetry) {
		t.Fatal("Governor must never publish raw Telemetry")
	}
	for _, mt := range []MessageType{Command, Alert, Heartbeat, Query} {
		if !CanPublish(RoleGovernor, mt) {
			t.Fatalf("Governor must be able to publish %s", mt)
		}
	}
}

func TestCanPublish_CoreIsUnrestricted(t *testing.T) {
	for _, mt := range []MessageType{Telemetry, Command, Query, Alert, Heartbeat} {
		if !CanPublish(RoleCore, mt) {
			t.Fatalf("Core must be able to publish %s", mt)
		}
	}
}

func TestCanPublish_IngestionDeniedCommand(t *testing.T) {
	if CanPublish(RoleIngestion, Command) {
		t.Fatal("Ingestion must never publish Command")
	}
	for _, mt := range []MessageType{Telemetry, Alert, Heartbeat, Query} {
		if !CanPublish(RoleIngestion, mt) {
			t.Fatalf("Ingestion must be able to publish %s", mt)
		}
	}
}

func TestCanPublish_DispatcherDeniedTelemetry(t *testing.T) {
	if CanPublish(RoleDispatcher, Telemetry) {
		t.Fatal("Dispatcher must never publish Telemetry")
	}
	for _, mt := range []MessageType{Command, Alert, Query, Heartbeat} {
		if !CanPublish(RoleDispatcher, mt) {
			t.Fatalf("Dispatcher must be able to publish %s", mt)
		}
	}
}

func TestCanPublish_UnknownRoleDenied(t *testing.T) {
	if CanPublish(Role("Unknown"), Telemetry) {
		t.Fatal("unlisted role must be denied, not default-allowed")
	}
}

func TestCheck_ReturnsACLViolationOnDenial(t *testing.T) {
	err := Check(RoleUI, Command)
	if err == nil {
		t.Fatal("expected error for UI publishing Command")
	}
}

func TestCheck_NilOnAllowed(t *testing.T) {
	if err := Check(RoleCore, Command); err != nil {
		t.Fatalf("expected nil error for allowed pair, got %v", err)
	}
}
