package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps the supported page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100

	maxFilterValues      = 16
	maxFilterValueLength = 64
)

// Params bundles pagination and filter values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	// Filters maps an allowed filter key to its normalised values.
	Filters map[string][]string
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// AllowedFilters lists query keys accepted as repeatable or comma separated filters.
	AllowedFilters []string
	// FilterValues optionally restricts a filter key to an enumerated set of lowercase values.
	FilterValues map[string][]string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns the normalised Params.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("page_size"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if raw := strings.TrimSpace(values.Get("page_token")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}

	for _, key := range opts.AllowedFilters {
		filterValues, err := parseFilterValues(key, values[key])
		if err != nil {
			return Params{}, err
		}
		if allowed, ok := opts.FilterValues[key]; ok {
			if err := checkFilterValues(key, filterValues, allowed); err != nil {
				return Params{}, err
			}
		}
		if len(filterValues) == 0 {
			continue
		}
		if params.Filters == nil {
			params.Filters = make(map[string][]string)
		}
		params.Filters[key] = filterValues
	}

	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	defaultPageSize = min(defaultPageSize, maxPageSize)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return min(value, maxPageSize), nil
}

func parseFilterValues(key string, raw []string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			value := strings.ToLower(strings.TrimSpace(part))
			if value == "" {
				continue
			}
			if len(value) > maxFilterValueLength {
				return nil, fmt.Errorf("%w: %s value too long", ErrInvalidFilter, key)
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			out = append(out, value)
			if len(out) > maxFilterValues {
				return nil, fmt.Errorf("%w: too many %s values", ErrInvalidFilter, key)
			}
		}
	}
	return out, nil
}

func checkFilterValues(key string, values, allowed []string) error {
	for _, value := range values {
		if !slices.Contains(allowed, value) {
			return fmt.Errorf("%w: %s must be one of %s", ErrInvalidFilter, key, strings.Join(allowed, ", "))
		}
	}
	return nil
}
