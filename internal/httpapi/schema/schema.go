// Package schema validates JSON request bodies against embedded schemas.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"tasklist/internal/service"
)

// Schema names.
const (
	TaskCreate = "task_create"
	TaskPatch  = "task_patch"
	Reorder    = "reorder"
	Token      = "token"
)

const baseURL = "https://tasklist.local/schemas/"

// nonFieldKey collects errors that do not belong to one property.
const nonFieldKey = "non_field_errors"

//go:embed *.json
var files embed.FS

var quotedName = regexp.MustCompile(`['"]([^'"]+)['"]`)

// Validator holds the compiled request schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	names := []string{TaskCreate, TaskPatch, Reorder, Token}
	for _, name := range names {
		data, err := files.ReadFile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(baseURL+name+".json", bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		s, err := compiler.Compile(baseURL + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// Validate checks body against the named schema. Malformed JSON and schema
// violations are reported as *service.ValidationError.
func (v *Validator) Validate(name string, body []byte) error {
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		verr := &service.ValidationError{}
		verr.Add(nonFieldKey, "JSON parse error - "+err.Error())
		return verr
	}

	err := s.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	verr := &service.ValidationError{}
	collect(ve, verr)
	if len(verr.Fields) == 0 {
		verr.Add(nonFieldKey, ve.Message)
	}
	return verr
}

// collect walks to the leaf causes and files each under its top-level
// property.
func collect(ve *jsonschema.ValidationError, out *service.ValidationError) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collect(cause, out)
		}
		return
	}

	if strings.HasPrefix(ve.Message, "missing properties") {
		for _, m := range quotedName.FindAllStringSubmatch(ve.Message, -1) {
			out.Add(m[1], "This field is required.")
		}
		return
	}

	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	if i := strings.IndexByte(field, '/'); i >= 0 {
		field = field[:i]
	}
	if field == "" {
		field = nonFieldKey
	}
	out.Add(field, ve.Message)
}
