// Command check_openapi verifies that the published OpenAPI document agrees
// with the operation registry and error kinds compiled into the API.
package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"bookshelf/pkg/domain"
	"bookshelf/services/api/internal/app"
)

type openAPIDoc struct {
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Enum       []string          `yaml:"enum"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

func main() {
	path := "services/api/api/openapi.yaml"
	if len(os.Args) == 2 {
		path = os.Args[1]
	} else if len(os.Args) > 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [openapi.yaml]\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(path)
	if err != nil {
		exitErr(err)
	}
	if err := check(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(doc openAPIDoc) error {
	req, err := getSchema(doc, "OperationRequest")
	if err != nil {
		return err
	}
	var ops []string
	for _, op := range app.Operations() {
		ops = append(ops, op.Name)
	}
	if err := ensureSameSet("OperationRequest.operationName", req.Properties["operationName"].Enum, ops); err != nil {
		return err
	}

	detail, err := getSchema(doc, "ErrorDetail")
	if err != nil {
		return err
	}
	var kinds []string
	for _, k := range app.Kinds() {
		kinds = append(kinds, string(k))
	}
	if err := ensureSameSet("ErrorDetail.kind", detail.Properties["kind"].Enum, kinds); err != nil {
		return err
	}
	if err := ensureRequired("ErrorDetail", detail, "kind", "message"); err != nil {
		return err
	}

	for name, v := range map[string]any{
		"SavedBook":   domain.SavedBook{},
		"Profile":     domain.Profile{},
		"AuthPayload": app.AuthPayload{},
	} {
		s, err := getSchema(doc, name)
		if err != nil {
			return err
		}
		if err := ensureSameSet(name+".properties", keys(s.Properties), jsonFields(v)); err != nil {
			return err
		}
	}
	return nil
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func ensureRequired(name string, s schema, fields ...string) error {
	required := make(map[string]bool, len(s.Required))
	for _, f := range s.Required {
		required[strings.TrimSpace(f)] = true
	}
	for _, f := range fields {
		if !required[f] {
			return fmt.Errorf("%s.required must include %q", name, f)
		}
	}
	return nil
}

func ensureSameSet(name string, documented, actual []string) error {
	doc := append([]string(nil), documented...)
	act := append([]string(nil), actual...)
	sort.Strings(doc)
	sort.Strings(act)
	if strings.Join(doc, ",") != strings.Join(act, ",") {
		return fmt.Errorf("%s mismatch: documented %v, implemented %v", name, doc, act)
	}
	return nil
}

// jsonFields returns the JSON names of v's exported, non-skipped fields.
func jsonFields(v any) []string {
	t := reflect.TypeOf(v)
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		out = append(out, name)
	}
	return out
}

func keys(m map[string]schema) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
