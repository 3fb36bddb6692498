package schema

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/openjustice/entitygraph/api"
)

// Load reads and indexes a schema-graph document from an HCL file.
func Load(path string) (*Graph, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse schema %s: %w", path, diags)
	}
	var doc api.Document
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("decode schema %s: %w", path, diags)
	}
	return New(&doc)
}

// Parse indexes a schema-graph document from raw HCL source. The filename is
// used only for diagnostics.
func Parse(src []byte, filename string) (*Graph, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse schema %s: %w", filename, diags)
	}
	var doc api.Document
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("decode schema %s: %w", filename, diags)
	}
	return New(&doc)
}
