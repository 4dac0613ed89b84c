package narajangter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/junseo/bidwatcher/internal/models"
)

// envelope is the common wrapper every 나라장터 endpoint returns. The
// body's items field is left raw because the API serializes a single
// result as a bare object instead of a one-element array.
type envelope struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			Items      json.RawMessage `json:"items"`
			TotalCount json.RawMessage `json:"totalCount"`
			NumOfRows  json.RawMessage `json:"numOfRows"`
			PageNo     json.RawMessage `json:"pageNo"`
		} `json:"body"`
	} `json:"response"`
}

// Page is one page of upstream records plus the reported total.
type Page struct {
	Items      []models.Payload
	TotalCount int
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Response.Header.ResultCode == "" {
		return nil, fmt.Errorf("malformed response: missing header")
	}
	return &env, nil
}

// decodeItems normalizes the items field to a payload slice. null,
// absent and empty-string items all mean an empty page; a bare object
// is a single-item page.
func decodeItems(raw json.RawMessage) ([]models.Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`)) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var items []map[string]any
		if err := dec.Decode(&items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		out := make([]models.Payload, 0, len(items))
		for _, m := range items {
			out = append(out, payloadFromMap(m))
		}
		return out, nil
	}

	var item map[string]any
	if err := dec.Decode(&item); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return []models.Payload{payloadFromMap(item)}, nil
}

// payloadFromMap stringifies every field. Numbers keep their lexical
// form via json.Number so amounts round-trip without float damage.
func payloadFromMap(m map[string]any) models.Payload {
	p := make(models.Payload, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			p[k] = val
		case json.Number:
			p[k] = val.String()
		case bool:
			p[k] = strconv.FormatBool(val)
		case nil:
			p[k] = ""
		default:
			p[k] = fmt.Sprintf("%v", val)
		}
	}
	return p
}

func decodeCount(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
