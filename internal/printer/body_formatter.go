package printer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// maxIndentBytes bounds bodies that are pretty printed
const maxIndentBytes = 256 << 10

type formattedBody struct {
	Text    string
	Notices []string
}

// formatBody pretty prints JSON and lays out form bodies; anything else is
// returned as is
func formatBody(contentType, body string) formattedBody {
	if body == "" {
		return formattedBody{}
	}
	mediaType := normalizeMediaType(contentType)
	if res, ok := formatJSON(mediaType, body); ok {
		return res
	}
	if res, ok := formatForm(mediaType, body); ok {
		return res
	}
	return formattedBody{Text: body}
}

func formatJSON(mediaType, body string) (formattedBody, bool) {
	trimmed := bytes.TrimSpace([]byte(body))
	if !looksLikeJSON(mediaType, trimmed) || !json.Valid(trimmed) {
		return formattedBody{}, false
	}
	if len(trimmed) > maxIndentBytes {
		notice := fmt.Sprintf("[JSON larger than %s, shown unformatted]", humanize.Bytes(maxIndentBytes))
		return formattedBody{Text: body, Notices: []string{notice}}, true
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return formattedBody{}, false
	}
	return formattedBody{Text: buf.String()}, true
}

func formatForm(mediaType, body string) (formattedBody, bool) {
	if mediaType != "application/x-www-form-urlencoded" {
		return formattedBody{}, false
	}
	values, err := url.ParseQuery(body)
	if err != nil || len(values) == 0 {
		return formattedBody{}, false
	}
	keys := make([]string, 0, len(values))
	width := 0
	for k := range values {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			fmt.Fprintf(&b, "%-*s = %s\n", width, k, v)
		}
	}
	return formattedBody{Text: strings.TrimRight(b.String(), "\n")}, true
}

func looksLikeJSON(mediaType string, body []byte) bool {
	if strings.HasSuffix(mediaType, "json") {
		return true
	}
	if len(body) == 0 {
		return false
	}
	return body[0] == '{' || body[0] == '['
}

func normalizeMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return strings.ToLower(mediaType)
}
