package resolver

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/funnyzak/mocktap/internal/sandbox"
)

// ParseBody decodes a request body for discriminators and functions: JSON
// documents become maps/slices, forms become maps, anything else a string.
func ParseBody(contentType string, body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := strings.TrimSpace(string(body))

	if mediaType == "application/x-www-form-urlencoded" {
		if values, err := url.ParseQuery(trimmed); err == nil {
			return flattenValues(values)
		}
	}
	if strings.HasSuffix(mediaType, "json") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v interface{}
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

// BuildRESTEnv assembles what a REST function sees
func BuildRESTEnv(r *http.Request, params map[string]string, body []byte) sandbox.RESTEnv {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	cookieMap := make(map[string]string)
	for _, c := range r.Cookies() {
		cookieMap[c.Name] = c.Value
	}
	if params == nil {
		params = map[string]string{}
	}
	return sandbox.RESTEnv{
		Request: map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"url":    r.URL.String(),
			"host":   r.Host,
		},
		Params:  params,
		Query:   flattenValues(r.URL.Query()),
		Body:    ParseBody(r.Header.Get("Content-Type"), body),
		Headers: headers,
		Cookies: cookieMap,
	}
}

// flattenValues keeps single values as strings and repeated ones as lists
func flattenValues(values url.Values) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		switch len(v) {
		case 0:
			out[k] = ""
		case 1:
			out[k] = v[0]
		default:
			list := make([]interface{}, len(v))
			for i := range v {
				list[i] = v[i]
			}
			out[k] = list
		}
	}
	return out
}
