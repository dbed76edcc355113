package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedDocument is returned for documents that are neither
// OpenAPI 3 nor Swagger 2
var ErrUnsupportedDocument = errors.New("not an OpenAPI 3.x or Swagger 2.0 document")

// maxDocumentBytes bounds documents fetched over HTTP
const maxDocumentBytes = 32 << 20

// Endpoint is one operation of an API description
type Endpoint struct {
	Path        string   `json:"path"`
	Method      string   `json:"method"`
	Tags        []string `json:"tags,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
}

var methodOrder = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
	http.MethodOptions,
	http.MethodTrace,
}

// ParseDocument extracts endpoints from an OpenAPI 3 or Swagger 2 document
// in JSON or YAML. Paths are sorted and {param} templates become :param.
func ParseDocument(data []byte) ([]Endpoint, error) {
	var version struct {
		OpenAPI string `yaml:"openapi"`
		Swagger string `yaml:"swagger"`
	}
	if err := yaml.Unmarshal(data, &version); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	var doc *openapi3.T
	switch {
	case version.OpenAPI != "":
		loader := openapi3.NewLoader()
		loaded, err := loader.LoadFromData(data)
		if err != nil {
			return nil, fmt.Errorf("load openapi document: %w", err)
		}
		doc = loaded
	case version.Swagger != "":
		converted, err := convertSwagger(data)
		if err != nil {
			return nil, err
		}
		doc = converted
	default:
		return nil, ErrUnsupportedDocument
	}
	return endpoints(doc), nil
}

// convertSwagger upgrades a Swagger 2 document to OpenAPI 3
func convertSwagger(data []byte) (*openapi3.T, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse swagger document: %w", err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode swagger document: %w", err)
	}
	var v2 openapi2.T
	if err := json.Unmarshal(asJSON, &v2); err != nil {
		return nil, fmt.Errorf("decode swagger document: %w", err)
	}
	doc, err := openapi2conv.ToV3(&v2)
	if err != nil {
		return nil, fmt.Errorf("convert swagger document: %w", err)
	}
	return doc, nil
}

func endpoints(doc *openapi3.T) []Endpoint {
	if doc == nil || doc.Paths == nil {
		return nil
	}
	items := doc.Paths.Map()
	paths := make([]string, 0, len(items))
	for p := range items {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []Endpoint
	for _, p := range paths {
		item := items[p]
		if item == nil {
			continue
		}
		ops := item.Operations()
		for _, method := range methodOrder {
			op, ok := ops[method]
			if !ok || op == nil {
				continue
			}
			out = append(out, Endpoint{
				Path:        ConvertPath(p),
				Method:      method,
				Tags:        op.Tags,
				Summary:     op.Summary,
				Description: op.Description,
			})
		}
	}
	return out
}

// ConvertPath turns OpenAPI {param} segments into :param segments
func ConvertPath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2 {
			segments[i] = ":" + seg[1 : len(seg)-1]
		}
	}
	return strings.Join(segments, "/")
}

// Fetch reads a document from a file path or an http(s) URL
func Fetch(ctx context.Context, source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", source, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	return data, nil
}

// LoadEndpoints fetches and parses every source concurrently. Endpoints are
// returned in source order.
func LoadEndpoints(ctx context.Context, sources ...string) ([]Endpoint, error) {
	results := make([][]Endpoint, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			data, err := Fetch(gctx, source)
			if err != nil {
				return err
			}
			eps, err := ParseDocument(data)
			if err != nil {
				return fmt.Errorf("%s: %w", source, err)
			}
			results[i] = eps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Endpoint
	for _, eps := range results {
		all = append(all, eps...)
	}
	return all, nil
}
