package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/types"
)

var (
	schemaMu    sync.Mutex
	schemaCache = make(map[string]*gojsonschema.Schema)
)

// ValidateTree checks a service configuration tree against a JSON schema. The
// tree is validated in its ToMap form: scalars are strings, nested trees are
// objects and repeated keys are arrays. Violations fail with ErrConfiguration
// listing every offending field.
func ValidateTree(tree *types.ConfigTree, schema string) error {
	if strings.TrimSpace(schema) == "" {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return err
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(tree.ToMap()))
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrConfiguration, err),
			"Config", "ValidateTree", "validate document")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrConfiguration, strings.Join(msgs, "; ")),
		"Config", "ValidateTree", "schema validation")
}

func compileSchema(schema string) (*gojsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[schema]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: invalid schema: %v", errors.ErrConfiguration, err),
			"Config", "ValidateTree", "compile schema")
	}
	schemaCache[schema] = s
	return s, nil
}
