// Package schema validates event_data against the JSON Schema registered
// for a (component_type, schema_version) pair (§4.2 stage 3). Registration
// is allowlist-then-compile, mirroring the firewall's allow-then-validate
// sequencing: an unregistered pair is rejected before validation is even
// attempted, so a producer cannot smuggle data past a schema that was
// never reviewed.
package schema

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ransomeye/core/pkg/rerrors"
)

// Registry holds compiled schemas keyed by "component_type/schema_version".
type Registry struct {
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry. Nothing validates until a schema
// is registered for it: fail-closed by construction.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*jsonschema.Schema)}
}

func registryKey(componentType, schemaVersion string) string {
	return componentType + "/" + schemaVersion
}

// Register compiles and stores the JSON Schema document for componentType
// at schemaVersion. Re-registering the same key overwrites the prior
// schema, which is the expected path for a schema version bump.
func (r *Registry) Register(componentType, schemaVersion, schemaDoc string) error {
	key := registryKey(componentType, schemaVersion)
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://ransomeye.local/schema/%s.json", strings.ReplaceAll(key, "/", "-"))
	if err := c.AddResource(url, strings.NewReader(schemaDoc)); err != nil {
		return rerrors.New("schema.Registry.Register", rerrors.SchemaInvalid, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return rerrors.New("schema.Registry.Register", rerrors.SchemaInvalid, err)
	}
	r.schemas[key] = compiled
	return nil
}

// Validate checks eventData against the schema registered for
// (componentType, schemaVersion). An unregistered pair is rejected
// outright — registration is the allowlist.
func (r *Registry) Validate(componentType, schemaVersion string, eventData interface{}) error {
	s, ok := r.schemas[registryKey(componentType, schemaVersion)]
	if !ok {
		return rerrors.New("schema.Registry.Validate", rerrors.SchemaInvalid,
			fmt.Errorf("no schema registered for component_type=%s schema_version=%s", componentType, schemaVersion))
	}
	if err := s.Validate(eventData); err != nil {
		return rerrors.New("schema.Registry.Validate", rerrors.SchemaInvalid, err)
	}
	return nil
}
