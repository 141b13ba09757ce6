// Package metax translates DataCite metadata into the Metax dataset fields
// recorded at publication. The translation is deterministic and total:
// invalid input fails with a user error instead of being dropped.
package metax

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/CSCfi/sd-submit/pkg/clients"
	"github.com/CSCfi/sd-submit/pkg/datacite"
	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

// FieldsOfScienceLister serves the Metax field-of-science vocabulary.
type FieldsOfScienceLister interface {
	GetFieldsOfScience(ctx context.Context) ([]clients.FieldOfScience, error)
}

// OrganisationResolver canonicalises organisation names.
type OrganisationResolver interface {
	IsRorOrganisation(ctx context.Context, name string) (string, error)
}

// RefData points at one entry of a Metax reference-data vocabulary.
type RefData struct {
	URL string `json:"url"`
}

// OrgRef is an organisation reference on an actor or project.
type OrgRef struct {
	PrefLabel map[string]string `json:"pref_label"`
}

// Person is the single person attached to an actor.
type Person struct {
	Name string `json:"name"`
}

// Actor is one agent of the dataset: a creator, contributor or publisher.
type Actor struct {
	Roles        []string `json:"roles"`
	Person       *Person  `json:"person,omitempty"`
	Organization *OrgRef  `json:"organization,omitempty"`
}

// Temporal is a time span covered by the data.
type Temporal struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
}

// Funder identifies who financed the data.
type Funder struct {
	Organization *OrgRef `json:"organization,omitempty"`
}

// Funding is one source of financial support.
type Funding struct {
	Funder            *Funder `json:"funder,omitempty"`
	FundingIdentifier string  `json:"funding_identifier,omitempty"`
}

// Project groups the participating organisations and their funding.
type Project struct {
	ParticipatingOrganizations []OrgRef  `json:"participating_organizations"`
	Funding                    []Funding `json:"funding,omitempty"`
}

// Spatial is a geographic area covered by the data.
type Spatial struct {
	GeographicName string   `json:"geographic_name,omitempty"`
	Reference      *RefData `json:"reference,omitempty"`
	CustomWKT      []string `json:"custom_wkt,omitempty"`
}

// Fields is the Metax dataset patch derived from DataCite metadata.
type Fields struct {
	Title          map[string]string `json:"title,omitempty"`
	Description    map[string]string `json:"description,omitempty"`
	Actors         []Actor           `json:"actors"`
	Keyword        []string          `json:"keyword,omitempty"`
	FieldOfScience []RefData         `json:"field_of_science,omitempty"`
	Issued         string            `json:"issued"`
	Temporal       []Temporal        `json:"temporal,omitempty"`
	Language       []RefData         `json:"language,omitempty"`
	Projects       []Project         `json:"projects,omitempty"`
	Spatial        []Spatial         `json:"spatial,omitempty"`
}

// Mapper builds Metax fields from DataCite metadata, resolving
// organisations through ROR and subjects through the field-of-science
// vocabulary.
type Mapper struct {
	fields FieldsOfScienceLister
	ror    OrganisationResolver
	now    func() time.Time
}

// NewMapper wires the mapper to its reference-data sources.
func NewMapper(fields FieldsOfScienceLister, ror OrganisationResolver) *Mapper {
	return &Mapper{fields: fields, ror: ror, now: time.Now}
}

// Map translates the submission metadata into a Metax dataset patch. The
// current draft record is consulted to carry its title and description
// through the update.
func (m *Mapper) Map(ctx context.Context, draft json.RawMessage, md *datacite.Metadata) (*Fields, error) {
	out := &Fields{
		Issued: m.now().UTC().Format("2006-01-02"),
	}

	if len(draft) > 0 {
		var current struct {
			Title       map[string]string `json:"title"`
			Description map[string]string `json:"description"`
		}
		if err := json.Unmarshal(draft, &current); err != nil {
			return nil, apperrors.NewUpstreamServerError("malformed Metax draft record", err)
		}
		out.Title = current.Title
		out.Description = current.Description
	}

	actors, err := m.mapActors(ctx, md)
	if err != nil {
		return nil, err
	}
	out.Actors = actors

	out.Keyword, out.FieldOfScience, err = m.mapSubjects(ctx, md.Subjects)
	if err != nil {
		return nil, err
	}

	out.Temporal, err = mapTemporal(md.Dates)
	if err != nil {
		return nil, err
	}

	if md.Language != "" {
		lexvo, ok := lexvoURL(md.Language)
		if !ok {
			return nil, apperrors.NewUserError(
				fmt.Sprintf("unknown language code %q", md.Language), nil)
		}
		out.Language = []RefData{{URL: lexvo}}
	}

	out.Projects, err = m.mapProjects(ctx, md)
	if err != nil {
		return nil, err
	}

	out.Spatial, err = mapSpatial(md.GeoLocations)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// resolveOrganisation canonicalises one organisation name through ROR.
func (m *Mapper) resolveOrganisation(ctx context.Context, name string) (*OrgRef, error) {
	preferred, err := m.ror.IsRorOrganisation(ctx, name)
	if err != nil {
		return nil, err
	}
	if preferred == "" {
		return nil, apperrors.NewUserError(
			fmt.Sprintf("organisation %q is not a ROR organisation", name), nil)
	}
	return &OrgRef{PrefLabel: map[string]string{"en": preferred}}, nil
}

func (m *Mapper) mapActors(ctx context.Context, md *datacite.Metadata) ([]Actor, error) {
	actors := make([]Actor, 0, len(md.Creators)+len(md.Contributors)+1)

	appendPerson := func(role, name string, affiliations []datacite.Affiliation) error {
		if len(affiliations) == 0 {
			return apperrors.NewUserError(
				fmt.Sprintf("%s %q has no affiliation", role, name), nil)
		}
		org, err := m.resolveOrganisation(ctx, affiliations[0].Name)
		if err != nil {
			return err
		}
		actors = append(actors, Actor{
			Roles:        []string{role},
			Person:       &Person{Name: name},
			Organization: org,
		})
		return nil
	}

	for _, creator := range md.Creators {
		if err := appendPerson("creator", creator.Name, creator.Affiliation); err != nil {
			return nil, err
		}
	}
	for _, contributor := range md.Contributors {
		if err := appendPerson("contributor", contributor.Name, contributor.Affiliation); err != nil {
			return nil, err
		}
	}

	if md.Publisher != nil {
		org, err := m.resolveOrganisation(ctx, md.Publisher.Name)
		if err != nil {
			return nil, err
		}
		actors = append(actors, Actor{
			Roles:        []string{"publisher"},
			Organization: org,
		})
	}

	return actors, nil
}

// uiSubjectPattern matches the "code - label" subject format produced by
// the submission UI.
var uiSubjectPattern = regexp.MustCompile(`^\s*(\d+)\s*-\s*(.+?)\s*$`)

func (m *Mapper) mapSubjects(ctx context.Context, subjects []datacite.Subject) ([]string, []RefData, error) {
	if len(subjects) == 0 {
		return nil, nil, nil
	}

	keywords := make([]string, 0, len(subjects))
	fos := make([]RefData, 0, len(subjects))
	for _, subject := range subjects {
		keywords = append(keywords, subject.Subject)

		if subject.ValueURI != "" {
			fos = append(fos, RefData{URL: subject.ValueURI})
			continue
		}

		code, label := ParseUISubject(subject.Subject)
		if code == "" {
			code = subject.ClassificationCode
		}

		url, err := m.lookupFieldOfScience(ctx, code, label)
		if err != nil {
			return nil, nil, err
		}
		fos = append(fos, RefData{URL: url})
	}
	return keywords, fos, nil
}

// lookupFieldOfScience finds a vocabulary entry by code first, then by
// label. Codes match on their digit tail, so 111 finds ta111.
func (m *Mapper) lookupFieldOfScience(ctx context.Context, code, label string) (string, error) {
	entries, err := m.fields.GetFieldsOfScience(ctx)
	if err != nil {
		return "", err
	}

	entry, ok := FindFieldOfScience(entries, code, label)
	if !ok {
		return "", apperrors.NewUserError(
			fmt.Sprintf("subject %q is not a known field of science", label), nil)
	}
	return entryURL(entry), nil
}

// ParseUISubject splits the "code - label" subject format produced by the
// submission UI. Subjects in any other shape are returned as a bare label.
func ParseUISubject(subject string) (code, label string) {
	if parts := uiSubjectPattern.FindStringSubmatch(subject); parts != nil {
		return parts[1], parts[2]
	}
	return "", subject
}

// FindFieldOfScience locates a vocabulary entry by code first, then by
// label. Codes match on their digit tail (111 finds ta111); labels match
// case- and punctuation-insensitively in any language.
func FindFieldOfScience(entries []clients.FieldOfScience, code, label string) (clients.FieldOfScience, bool) {
	if code != "" {
		for _, entry := range entries {
			if codeMatches(entry.Code, code) {
				return entry, true
			}
		}
	}

	wanted := normaliseLabel(label)
	for _, entry := range entries {
		for _, prefLabel := range entry.PrefLabel {
			if normaliseLabel(prefLabel) == wanted {
				return entry, true
			}
		}
	}
	return clients.FieldOfScience{}, false
}

func entryURL(entry clients.FieldOfScience) string {
	if entry.URL != "" {
		return entry.URL
	}
	return entry.ID
}

var digitTail = regexp.MustCompile(`\d+$`)

func codeMatches(entryCode, wanted string) bool {
	if entryCode == wanted {
		return true
	}
	return digitTail.FindString(entryCode) == wanted
}

var labelPunctuation = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func normaliseLabel(label string) string {
	return labelPunctuation.ReplaceAllString(strings.ToLower(label), "")
}

func (m *Mapper) mapProjects(ctx context.Context, md *datacite.Metadata) ([]Project, error) {
	if md.Publisher == nil {
		return nil, nil
	}

	org, err := m.resolveOrganisation(ctx, md.Publisher.Name)
	if err != nil {
		return nil, err
	}

	project := Project{ParticipatingOrganizations: []OrgRef{*org}}
	for _, ref := range md.FundingReferences {
		funding := Funding{FundingIdentifier: ref.AwardNumber}
		if ref.FunderName != "" {
			funding.Funder = &Funder{
				Organization: &OrgRef{PrefLabel: map[string]string{"en": ref.FunderName}},
			}
		}
		project.Funding = append(project.Funding, funding)
	}
	return []Project{project}, nil
}

// mapTemporal turns dates of type Other into time spans. A date is one
// token for a start date, or "start/end".
func mapTemporal(dates []datacite.Date) ([]Temporal, error) {
	var spans []Temporal
	for _, date := range dates {
		if date.DateType != "Other" {
			continue
		}

		tokens := strings.Split(date.Date, "/")
		switch len(tokens) {
		case 1:
			start, err := toValidDate(tokens[0])
			if err != nil {
				return nil, err
			}
			spans = append(spans, Temporal{StartDate: start})
		case 2:
			start, err := toValidDate(tokens[0])
			if err != nil {
				return nil, err
			}
			end, err := toValidDate(tokens[1])
			if err != nil {
				return nil, err
			}
			spans = append(spans, Temporal{StartDate: start, EndDate: end})
		default:
			return nil, apperrors.NewUserError(
				fmt.Sprintf("invalid date range %q", date.Date), nil)
		}
	}
	return spans, nil
}
