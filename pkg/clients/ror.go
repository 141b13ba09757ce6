package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/CSCfi/sd-submit/pkg/config"
	"github.com/CSCfi/sd-submit/pkg/service"
)

// rorCacheTTL is how long a resolved (or unresolved) name is remembered.
const rorCacheTTL = 7 * 24 * time.Hour

// RorClient resolves organisation names against the Research Organization
// Registry. Lookups are cached in memory for a week; misses for the same
// name collapse into one upstream query.
type RorClient struct {
	client *service.Client

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]rorEntry
}

type rorEntry struct {
	preferred string
	fetched   time.Time
}

// NewRor creates the ROR facade from configuration.
func NewRor(cfg config.ServiceConfig) *RorClient {
	opts := []service.Option{
		service.WithHealth(cfg.URL+"/heartbeat", nil),
	}
	if !cfg.Enabled {
		opts = append(opts, service.Disabled())
	}
	return &RorClient{
		client: service.New("ROR", cfg.URL, opts...),
		cache:  make(map[string]rorEntry),
	}
}

// Service exposes the underlying client for health aggregation.
func (r *RorClient) Service() *service.Client {
	return r.client
}

type rorResult struct {
	NumberOfResults int `json:"number_of_results"`
	Items           []struct {
		Names []struct {
			Value string   `json:"value"`
			Types []string `json:"types"`
		} `json:"names"`
	} `json:"items"`
}

// IsRorOrganisation resolves an organisation name to its ROR preferred
// name. Returns the empty string when the name does not resolve to exactly
// one organisation.
func (r *RorClient) IsRorOrganisation(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	if entry, ok := r.cache[name]; ok && time.Since(entry.fetched) < rorCacheTTL {
		r.mu.Unlock()
		return entry.preferred, nil
	}
	r.mu.Unlock()

	result, err, _ := r.group.Do(name, func() (any, error) {
		preferred, err := r.lookup(ctx, name)
		if err != nil {
			return "", err
		}

		r.mu.Lock()
		r.cache[name] = rorEntry{preferred: preferred, fetched: time.Now()}
		r.mu.Unlock()
		return preferred, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (r *RorClient) lookup(ctx context.Context, name string) (string, error) {
	// An OR-phrase over the name fields catches display names, labels and
	// aliases in one query.
	quoted := fmt.Sprintf("%q", name)
	query := fmt.Sprintf(
		"names.types.ror_display:%s OR names.types.label:%s OR names.types.alias:%s",
		quoted, quoted, quoted)

	var found rorResult
	err := r.client.DoJSON(ctx, service.Request{
		Method: http.MethodGet,
		Path:   "/organizations",
		Query:  url.Values{"query.advanced": []string{query}},
	}, &found)
	if err != nil {
		return "", err
	}

	displayNames := make([]string, 0, len(found.Items))
	for _, item := range found.Items {
		for _, candidate := range item.Names {
			for _, nameType := range candidate.Types {
				if nameType == "ror_display" {
					displayNames = append(displayNames, candidate.Value)
				}
			}
		}
	}

	switch {
	case len(displayNames) == 1:
		return displayNames[0], nil
	case len(displayNames) > 1:
		// Several hits: accept only a single exact match on the
		// normalised display name.
		wanted := normaliseOrgName(name)
		match := ""
		for _, display := range displayNames {
			if normaliseOrgName(display) == wanted {
				if match != "" {
					return "", nil
				}
				match = display
			}
		}
		return match, nil
	default:
		return "", nil
	}
}

var nonWord = regexp.MustCompile(`\W+`)

func normaliseOrgName(name string) string {
	return nonWord.ReplaceAllString(strings.ToLower(name), "")
}
