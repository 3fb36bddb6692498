package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"github.com/openjustice/entitygraph/internal/schema"
)

// Registry loads per-source mapping specifications from a filesystem. Specs
// live as "<source>.yaml" files in the registry root. The filesystem is an
// abstraction so tests can run against an in-memory tree.
type Registry struct {
	fs     billy.Filesystem
	logger *slog.Logger
}

// NewRegistry creates a registry over the given filesystem.
func NewRegistry(fs billy.Filesystem, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{fs: fs, logger: logger}
}

// Load reads and decodes the spec for a source. It does not validate the
// spec against a schema graph; callers must run Validate before ingesting.
func (r *Registry) Load(source string) (*Spec, error) {
	name := source + ".yaml"
	data, err := util.ReadFile(r.fs, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &SpecNotFoundError{Source: source}
		}
		return nil, fmt.Errorf("read spec %s: %w", name, err)
	}

	spec, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode spec %s: %w", name, err)
	}
	spec.Source = source
	r.logger.Debug("loaded mapping spec",
		slog.String("source", source),
		slog.Int("key_mappings", len(spec.KeyMappings)),
		slog.Int("child_key_mappings", len(spec.ChildKeyMappings)),
		slog.Int("ignored", len(spec.KeysToIgnore)))
	return spec, nil
}

// LoadValidated loads a source's spec and validates it against the schema
// graph in one step.
func (r *Registry) LoadValidated(source string, g *schema.Graph) (*Spec, error) {
	spec, err := r.Load(source)
	if err != nil {
		return nil, err
	}
	if err := Validate(spec, g); err != nil {
		return nil, err
	}
	return spec, nil
}

// Decode parses a spec document. Unknown top-level keys are rejected so a
// typo in a recognized key cannot silently drop a whole mapping bucket.
func Decode(data []byte) (*Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty spec document")
		}
		return nil, err
	}
	return &spec, nil
}
