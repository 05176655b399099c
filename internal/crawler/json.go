package crawler

import (
	"encoding/json"
	"strconv"
	"strings"

	perr "leasesync/internal/errors"
	"leasesync/internal/model"
)

// JSONMapper maps the catalog's structured data endpoint. Rules are dotted key
// paths into the decoded document; numeric segments index arrays.
type JSONMapper struct {
	Fields Fields[string]
	// Images is the path to the image list. Entries are strings or objects
	// holding the URL under ImageKey.
	Images   string
	ImageKey string
	// Suffix is appended to the page URL to reach its data endpoint.
	Suffix string
}

// DefaultJSONFields is the key table for the data endpoint
func DefaultJSONFields() Fields[string] {
	return Fields[string]{
		Title:        "vehicle.title",
		Subtitle:     "vehicle.subtitle",
		LeasePrice:   "vehicle.financialLease.price",
		LeaseTerm:    "vehicle.financialLease.term",
		AdNumber:     "vehicle.advertisementNumber",
		Make:         "vehicle.make",
		Model:        "vehicle.model",
		Year:         "vehicle.year",
		Mileage:      "vehicle.mileage",
		Transmission: "vehicle.transmission",
		Price:        "vehicle.price",
		Fuel:         "vehicle.fuel",
		VATMargin:    "vehicle.vatMargin",
		Options:      "vehicle.options",
		Address:      "dealer.address",
	}
}

func NewJSONMapper(suffix string) *JSONMapper {
	return &JSONMapper{
		Fields:   DefaultJSONFields(),
		Images:   "vehicle.images",
		ImageKey: "url",
		Suffix:   suffix,
	}
}

func (m *JSONMapper) Endpoint(pageURL string) string {
	if m.Suffix == "" {
		return pageURL
	}
	// keep any query string after the suffix
	if path, query, ok := strings.Cut(pageURL, "?"); ok {
		return strings.TrimRight(path, "/") + m.Suffix + "?" + query
	}
	return strings.TrimRight(pageURL, "/") + m.Suffix
}

func (m *JSONMapper) Map(pageURL string, body []byte) (*model.ListingRecord, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "decode detail json")
	}

	rec := &model.ListingRecord{URL: pageURL}
	m.Fields.fill(rec, func(path string) *string {
		if path == "" {
			return nil
		}
		return scalar(lookup(doc, path))
	})

	var raw []string
	if list, ok := lookup(doc, m.Images).([]any); ok {
		for _, item := range list {
			switch v := item.(type) {
			case string:
				raw = append(raw, v)
			case map[string]any:
				if s, ok := v[m.ImageKey].(string); ok {
					raw = append(raw, s)
				}
			}
		}
	}
	rec.Images = NormalizeImages(pageURL, raw)
	return rec, nil
}

// lookup walks a dotted path through decoded JSON; missing keys yield nil
func lookup(v any, path string) any {
	if path == "" {
		return nil
	}
	for _, key := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			v = node[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			v = node[i]
		default:
			return nil
		}
	}
	return v
}

// scalar renders a JSON value as field text. Lists of scalars are joined
// with ", " like the markup options list.
func scalar(v any) *string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return clean(x)
	case float64:
		return model.Str(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		return model.Str(strconv.FormatBool(x))
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := scalar(item); s != nil {
				parts = append(parts, *s)
			}
		}
		return model.Str(strings.Join(parts, ", "))
	default:
		return nil
	}
}
