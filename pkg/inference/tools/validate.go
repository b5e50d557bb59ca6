package tools

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationError lists the schema violations of a call's arguments.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// ValidateArgs checks args against the tool's parameter schema.
func ValidateArgs(def ToolDefinition, args map[string]interface{}) error {
	if def.Parameters == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	schema := *def.Parameters
	schema.Version = ""
	schema.ID = ""

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(&schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return errors.Wrapf(err, "could not validate arguments for %s", def.Name)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{Tool: def.Name}
	for _, desc := range result.Errors() {
		verr.Problems = append(verr.Problems, desc.String())
	}
	return verr
}
