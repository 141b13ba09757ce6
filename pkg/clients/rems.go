package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/CSCfi/sd-submit/pkg/config"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
	"github.com/CSCfi/sd-submit/pkg/service"
)

// RemsClient manages access-control objects in REMS: resources, catalogue
// items, and the workflows and licenses they reference.
type RemsClient struct {
	client  *service.Client
	baseURL string
}

// NewRems creates the REMS facade from configuration.
func NewRems(cfg config.ServiceConfig) *RemsClient {
	opts := []service.Option{
		service.WithHeaders(map[string]string{
			"x-rems-api-key": cfg.Key,
			"x-rems-user-id": cfg.User,
		}),
		service.WithHealth(cfg.URL+"/api/health", remsHealthClassifier),
	}
	if !cfg.Enabled {
		opts = append(opts, service.Disabled())
	}
	return &RemsClient{
		client:  service.New("REMS", cfg.URL, opts...),
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
	}
}

// Service exposes the underlying client for health aggregation.
func (r *RemsClient) Service() *service.Client {
	return r.client
}

// ApplicationURL returns the SD Apply application link for a catalogue item.
func (r *RemsClient) ApplicationURL(catalogueID int) string {
	return fmt.Sprintf("%s/application?items=%d", r.baseURL, catalogueID)
}

type remsOrganization struct {
	ID   string            `json:"organization/id"`
	Name map[string]string `json:"organization/name"`
}

type remsWorkflow struct {
	ID           int              `json:"id"`
	Organization remsOrganization `json:"organization"`
	Title        string           `json:"title"`
	Enabled      bool             `json:"enabled"`
	Archived     bool             `json:"archived"`
}

type remsLocalization struct {
	Title       string `json:"title"`
	TextContent string `json:"textcontent"`
}

type remsLicense struct {
	ID            int                         `json:"id"`
	Organization  remsOrganization            `json:"organization"`
	Localizations map[string]remsLocalization `json:"localizations"`
	Enabled       bool                        `json:"enabled"`
	Archived      bool                        `json:"archived"`
}

// GetWorkflow fetches a workflow and checks that it is usable from the
// given organisation.
func (r *RemsClient) GetWorkflow(ctx context.Context, orgID string, workflowID int) error {
	var wf remsWorkflow
	err := r.client.DoJSON(ctx, service.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/api/workflows/%d", workflowID),
	}, &wf)
	if err != nil {
		return err
	}

	if !wf.Enabled || wf.Archived {
		return apperrors.NewUserError(
			fmt.Sprintf("REMS workflow %d is not enabled", workflowID), nil)
	}
	if wf.Organization.ID != orgID {
		return apperrors.NewUserError(fmt.Sprintf(
			"REMS workflow %d does not belong to organization %q", workflowID, orgID), nil)
	}
	return nil
}

// getLicense checks that a license exists, is enabled, and belongs to the
// organisation.
func (r *RemsClient) getLicense(ctx context.Context, orgID string, licenseID int) error {
	var lic remsLicense
	err := r.client.DoJSON(ctx, service.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/api/licenses/%d", licenseID),
	}, &lic)
	if err != nil {
		return err
	}

	if !lic.Enabled || lic.Archived {
		return apperrors.NewUserError(
			fmt.Sprintf("REMS license %d is not enabled", licenseID), nil)
	}
	if lic.Organization.ID != orgID {
		return apperrors.NewUserError(fmt.Sprintf(
			"REMS license %d does not belong to organization %q", licenseID, orgID), nil)
	}
	return nil
}

type remsCreated struct {
	Success bool `json:"success"`
	ID      int  `json:"id"`
}

// CreateResource validates the workflow and licenses and creates a REMS
// resource identified by the DOI. Returns the resource id.
func (r *RemsClient) CreateResource(ctx context.Context, orgID string, workflowID int, licenseIDs []int, doi string) (int, error) {
	if err := r.GetWorkflow(ctx, orgID, workflowID); err != nil {
		return 0, err
	}
	for _, licenseID := range licenseIDs {
		if err := r.getLicense(ctx, orgID, licenseID); err != nil {
			return 0, err
		}
	}

	var created remsCreated
	err := r.client.DoJSON(ctx, service.Request{
		Method: http.MethodPost,
		Path:   "/api/resources/create",
		Body: map[string]any{
			"resid":        doi,
			"organization": map[string]string{"organization/id": orgID},
			"licenses":     licenseIDs,
		},
	}, &created)
	if err != nil {
		return 0, err
	}
	if !created.Success {
		return 0, apperrors.NewUpstreamServerError("REMS refused to create the resource", nil)
	}
	return created.ID, nil
}

// CreateCatalogueItem creates the catalogue item applicants see, pointing
// at the dataset discovery URL. Returns the catalogue item id.
func (r *RemsClient) CreateCatalogueItem(ctx context.Context, orgID string, workflowID, resourceID int, title, discoveryURL string) (int, error) {
	var created remsCreated
	err := r.client.DoJSON(ctx, service.Request{
		Method: http.MethodPost,
		Path:   "/api/catalogue-items/create",
		Body: map[string]any{
			"resid":        resourceID,
			"wfid":         workflowID,
			"organization": map[string]string{"organization/id": orgID},
			"localizations": map[string]any{
				"en": map[string]string{
					"title":   title,
					"infourl": discoveryURL,
				},
			},
			"enabled": true,
		},
	}, &created)
	if err != nil {
		return 0, err
	}
	if !created.Success {
		return 0, apperrors.NewUpstreamServerError("REMS refused to create the catalogue item", nil)
	}
	return created.ID, nil
}

// Organization is the UI view of one REMS organisation with its usable
// workflows and licenses.
type Organization struct {
	ID        string     `json:"organizationId"`
	Name      string     `json:"name"`
	Workflows []Workflow `json:"workflows"`
	Licenses  []License  `json:"licenses"`
}

// Workflow is the UI view of one REMS workflow.
type Workflow struct {
	ID    int    `json:"workflowId"`
	Title string `json:"title"`
}

// License is the UI view of one REMS license.
type License struct {
	ID    int    `json:"licenseId"`
	Title string `json:"title"`
	Link  string `json:"link"`
}

// ApplicationBases lists the enabled workflows and licenses grouped by
// organisation, localised to the requested language with a fallback to
// English and then to the first available language. An organisation filter
// narrows the result to one organisation.
func (r *RemsClient) ApplicationBases(ctx context.Context, language, organisation string) ([]Organization, error) {
	listQuery := url.Values{"disabled": []string{"false"}, "archived": []string{"false"}}

	var workflows []remsWorkflow
	err := r.client.DoJSON(ctx, service.Request{
		Method: http.MethodGet,
		Path:   "/api/workflows",
		Query:  listQuery,
	}, &workflows)
	if err != nil {
		return nil, err
	}

	var licenses []remsLicense
	err = r.client.DoJSON(ctx, service.Request{
		Method: http.MethodGet,
		Path:   "/api/licenses",
		Query:  listQuery,
	}, &licenses)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Organization)
	orgFor := func(org remsOrganization) *Organization {
		if existing, ok := byID[org.ID]; ok {
			return existing
		}
		entry := &Organization{
			ID:   org.ID,
			Name: localizeName(org.Name, language),
		}
		byID[org.ID] = entry
		return entry
	}

	for _, wf := range workflows {
		entry := orgFor(wf.Organization)
		entry.Workflows = append(entry.Workflows, Workflow{ID: wf.ID, Title: wf.Title})
	}
	for _, lic := range licenses {
		entry := orgFor(lic.Organization)
		loc := localize(lic.Localizations, language)
		entry.Licenses = append(entry.Licenses, License{
			ID:    lic.ID,
			Title: loc.Title,
			Link:  loc.TextContent,
		})
	}

	result := make([]Organization, 0, len(byID))
	for id, entry := range byID {
		if organisation != "" && id != organisation {
			continue
		}
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// localize picks the requested language, falling back to English and then
// to the lexicographically first language available.
func localize(localizations map[string]remsLocalization, language string) remsLocalization {
	if loc, ok := localizations[language]; ok {
		return loc
	}
	if loc, ok := localizations["en"]; ok {
		return loc
	}
	languages := make([]string, 0, len(localizations))
	for lang := range localizations {
		languages = append(languages, lang)
	}
	if len(languages) == 0 {
		return remsLocalization{}
	}
	sort.Strings(languages)
	return localizations[languages[0]]
}

func localizeName(names map[string]string, language string) string {
	if name, ok := names[language]; ok {
		return name
	}
	if name, ok := names["en"]; ok {
		return name
	}
	languages := make([]string, 0, len(names))
	for lang := range names {
		languages = append(languages, lang)
	}
	if len(languages) == 0 {
		return ""
	}
	sort.Strings(languages)
	return names[languages[0]]
}

// remsHealthClassifier reads the REMS health document: the service answers
// 200 while still catching up on events, which counts as degraded.
func remsHealthClassifier(resp *http.Response) service.Status {
	if resp.StatusCode >= 400 {
		return service.StatusDown
	}
	var health struct {
		Healthy bool `json:"healthy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return service.StatusError
	}
	if !health.Healthy {
		return service.StatusDegraded
	}
	return service.StatusUp
}
