package schema

import (
	"testing"

	"github.com/ransomeye/core/pkg/rerrors"
)

const processSchemaV1 = `{
  "type": "object",
  "required": ["pid", "process_name"],
  "properties": {
    "pid": {"type": "integer"},
    "process_name": {"type": "string"}
  }
}`

func TestValidate_UnregisteredPairRejected(t *testing.T) {
	r := NewRegistry()
	err := r.Validate("dpi-process", "v1", map[string]interface{}{"pid": 1, "process_name": "x"})
	if !rerrors.Is(err, rerrors.SchemaInvalid) {
		t.Fatalf("expected SchemaInvalid for unregistered pair, got %v", err)
	}
}

func TestValidate_AcceptsConformingData(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("dpi-process", "v1", processSchemaV1); err != nil {
		t.Fatal(err)
	}
	err := r.Validate("dpi-process", "v1", map[string]interface{}{
		"pid":          float64(1234),
		"process_name": "svchost.exe",
	})
	if err != nil {
		t.Fatalf("expected valid data to pass, got %v", err)
	}
}

func TestValidate_RejectsNonConformingData(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("dpi-process", "v1", processSchemaV1); err != nil {
		t.Fatal(err)
	}
	err := r.Validate("dpi-process", "v1", map[string]interface{}{"pid": float64(1234)})
	if !rerrors.Is(err, rerrors.SchemaInvalid) {
		t.Fatalf("expected SchemaInvalid for missing required field, got %v", err)
	}
}

func TestValidate_DistinctVersionsAreIndependentSchemas(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("dpi-process", "v1", processSchemaV1); err != nil {
		t.Fatal(err)
	}
	err := r.Validate("dpi-process", "v2", map[string]interface{}{"pid": float64(1), "process_name": "x"})
	if !rerrors.Is(err, rerrors.SchemaInvalid) {
		t.Fatalf("expected v2 to be unregistered independent of v1, got %v", err)
	}
}

func TestRegister_RejectsMalformedSchemaDocument(t *testing.T) {
	r := NewRegistry()
	err := r.Register("dpi-process", "v1", `{not json`)
	if !rerrors.Is(err, rerrors.SchemaInvalid) {
		t.Fatalf("expected SchemaInvalid for malformed schema doc, got %v", err)
	}
}
