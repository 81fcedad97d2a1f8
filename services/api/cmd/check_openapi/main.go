package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"aluastro/services/api/internal/server"
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Enum       []string          `yaml:"enum"`
	Items      *schema           `yaml:"items"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := check(doc, server.Routes(), server.ErrorCodes()); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
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

// check reports every drift between the document and the served routes and
// error codes.
func check(doc openAPIDoc, routes map[string][]string, codes []string) error {
	var errs []error
	errs = append(errs, checkPaths(doc, routes)...)
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		errs = append(errs, err)
	} else if err := validateErrorResponse(errResp, codes); err != nil {
		errs = append(errs, err)
	}
	applyResp, err := getSchema(doc, "ApplyResponse")
	if err != nil {
		errs = append(errs, err)
	} else if err := requireStringFields("ApplyResponse", applyResp, "id", "message"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func checkPaths(doc openAPIDoc, routes map[string][]string) []error {
	var errs []error
	paths := make([]string, 0, len(routes))
	for path := range routes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		ops, ok := doc.Paths[path]
		if !ok {
			errs = append(errs, fmt.Errorf("path %s is served but not documented", path))
			continue
		}
		for _, method := range routes[path] {
			if method == http.MethodHead {
				continue
			}
			if _, ok := ops[strings.ToLower(method)]; !ok {
				errs = append(errs, fmt.Errorf("%s %s is served but not documented", method, path))
			}
		}
		for op := range ops {
			if !slices.Contains(routes[path], strings.ToUpper(op)) {
				errs = append(errs, fmt.Errorf("%s %s is documented but not served", strings.ToUpper(op), path))
			}
		}
	}
	for path := range doc.Paths {
		if _, ok := routes[path]; !ok {
			errs = append(errs, fmt.Errorf("path %s is documented but not served", path))
		}
	}
	return errs
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

func validateErrorResponse(s schema, codes []string) error {
	if err := requireStringFields("ErrorResponse", s, "code", "message"); err != nil {
		return err
	}
	reqIDProp, ok := s.Properties["requestId"]
	if !ok || reqIDProp.Type != "string" {
		return errors.New("ErrorResponse.requestId must be string")
	}
	detailsProp, ok := s.Properties["details"]
	if !ok || detailsProp.Type != "object" {
		return errors.New("ErrorResponse.details must be object")
	}
	documented := append([]string(nil), s.Properties["code"].Enum...)
	served := append([]string(nil), codes...)
	sort.Strings(documented)
	sort.Strings(served)
	if !slices.Equal(documented, served) {
		return fmt.Errorf("ErrorResponse.code enum mismatch: documented %v, served %v", documented, served)
	}
	return nil
}

func requireStringFields(name string, s schema, fields ...string) error {
	if s.Type != "object" {
		return fmt.Errorf("%s must be object", name)
	}
	required := makeSet(s.Required)
	for _, field := range fields {
		if !required[field] {
			return fmt.Errorf("%s.required must include %q", name, field)
		}
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("%s.%s must be string", name, field)
		}
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
