package config

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/apiary/apiary/internal/apierrors"
)

// Methods accepted in endpoint declarations.
var supportedMethods = map[string]struct{}{
	"GET":    {},
	"POST":   {},
	"PUT":    {},
	"DELETE": {},
	"PATCH":  {},
}

// ParameterSpec maps one named service parameter to a request source.
type ParameterSpec struct {
	// Source is "query" or "path".
	Source string `json:"source,omitempty"`
	// Key is the query parameter or path segment name; defaults to the
	// parameter's own name.
	Key string `json:"key,omitempty"`
}

// EndpointDeclaration describes one runtime-generated route. Declarations
// are loaded once at startup and immutable for the life of the process;
// unlike credentials there is no live endpoint reload.
type EndpointDeclaration struct {
	Path    string `json:"path"`
	Method  string `json:"method,omitempty"`
	Service string `json:"service"`
	Enabled *bool  `json:"enabled,omitempty"`
	// RequiresAuth gates the route behind the credential check.
	RequiresAuth bool `json:"requires_auth,omitempty"`
	// ApiKeys optionally overrides the global credential source for this
	// endpoint (inline list or key file path, checked exclusively).
	ApiKeys string `json:"api_keys,omitempty"`
	// Parameters maps service parameter names to either a ParameterSpec
	// object or a literal constant passed through verbatim.
	Parameters  map[string]any `json:"parameters,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
}

// IsEnabled defaults to true when the field is omitted.
func (d *EndpointDeclaration) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// NormalizedMethod returns the uppercased method, defaulting to GET.
func (d *EndpointDeclaration) NormalizedMethod() string {
	if d.Method == "" {
		return "GET"
	}
	return strings.ToUpper(d.Method)
}

// ParameterSpecOf interprets a parameters entry as a mapping spec. The
// second return is false for literal constants.
func ParameterSpecOf(value any) (ParameterSpec, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return ParameterSpec{}, false
	}
	spec := ParameterSpec{Source: "query"}
	if source, ok := obj["source"].(string); ok && source != "" {
		spec.Source = source
	}
	if key, ok := obj["key"].(string); ok {
		spec.Key = key
	}
	return spec, true
}

// EndpointsDocument is the declarations file: an object with a single
// endpoints list.
type EndpointsDocument struct {
	Endpoints []EndpointDeclaration `json:"endpoints"`
}

// LoadEndpoints reads and validates the declarations document. A missing
// file yields zero endpoints. Validation failures here are configuration
// errors: they abort startup before any route is registered.
func LoadEndpoints(path string) (*EndpointsDocument, error) {
	doc := &EndpointsDocument{}
	if path == "" {
		return doc, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("reading endpoints file: %w", err)
	}
	if err := yaml.Unmarshal(contents, doc); err != nil {
		return nil, fmt.Errorf("decoding endpoints file %s: %w", path, err)
	}
	if err := ValidateEndpoints(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidateEndpoints enforces the declaration invariants: paths start with
// "/", methods come from the supported set, and no two enabled
// declarations share a (path, method) pair.
func ValidateEndpoints(doc *EndpointsDocument) error {
	seen := map[string]struct{}{}
	for i := range doc.Endpoints {
		d := &doc.Endpoints[i]
		if !strings.HasPrefix(d.Path, "/") {
			return fmt.Errorf("%w: %q", apierrors.ErrInvalidEndpointPath, d.Path)
		}
		method := d.NormalizedMethod()
		if _, ok := supportedMethods[method]; !ok {
			return fmt.Errorf("%w: %q for %s", apierrors.ErrInvalidEndpointMethod, d.Method, d.Path)
		}
		if !d.IsEnabled() {
			continue
		}
		key := method + " " + d.Path
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", apierrors.ErrDuplicateEndpoint, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
