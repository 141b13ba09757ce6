// Package datacite defines the strict DataCite 4.5 metadata model stored on
// a submission and shipped to the DOI registries.
//
// The model is closed: documents carrying properties outside the schema are
// rejected at parse time instead of silently dropped.
package datacite

import (
	"bytes"
	"encoding/json"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

// Affiliation is an organisation a creator or contributor belongs to.
type Affiliation struct {
	Name                        string `json:"name"`
	AffiliationIdentifier       string `json:"affiliationIdentifier,omitempty"`
	AffiliationIdentifierScheme string `json:"affiliationIdentifierScheme,omitempty"`
	SchemeURI                   string `json:"schemeUri,omitempty"`
}

// NameIdentifier is a persistent identifier for a person, e.g. an ORCID.
type NameIdentifier struct {
	NameIdentifier       string `json:"nameIdentifier"`
	NameIdentifierScheme string `json:"nameIdentifierScheme,omitempty"`
	SchemeURI            string `json:"schemeUri,omitempty"`
}

// Creator is a main researcher involved in producing the data.
type Creator struct {
	Name            string           `json:"name"`
	NameType        string           `json:"nameType,omitempty"`
	GivenName       string           `json:"givenName,omitempty"`
	FamilyName      string           `json:"familyName,omitempty"`
	Affiliation     []Affiliation    `json:"affiliation,omitempty"`
	NameIdentifiers []NameIdentifier `json:"nameIdentifiers,omitempty"`
	Lang            string           `json:"lang,omitempty"`
}

// Contributor is an institution or person contributing to the data.
type Contributor struct {
	Creator
	ContributorType string `json:"contributorType"`
}

// Publisher is the entity that holds or publishes the data.
type Publisher struct {
	Name                      string `json:"name"`
	PublisherIdentifier       string `json:"publisherIdentifier,omitempty"`
	PublisherIdentifierScheme string `json:"publisherIdentifierScheme,omitempty"`
	SchemeURI                 string `json:"schemeUri,omitempty"`
	Lang                      string `json:"lang,omitempty"`
}

// Subject expresses what the data is about.
type Subject struct {
	Subject            string `json:"subject"`
	SubjectScheme      string `json:"subjectScheme,omitempty"`
	SchemeURI          string `json:"schemeUri,omitempty"`
	ValueURI           string `json:"valueUri,omitempty"`
	ClassificationCode string `json:"classificationCode,omitempty"`
	Lang               string `json:"lang,omitempty"`
}

// Date is a date relevant to the data, qualified by a type.
type Date struct {
	Date            string `json:"date"`
	DateType        string `json:"dateType"`
	DateInformation string `json:"dateInformation,omitempty"`
}

// Title is a name by which the data is known.
type Title struct {
	Title     string `json:"title"`
	TitleType string `json:"titleType,omitempty"`
	Lang      string `json:"lang,omitempty"`
}

// Description is additional information about the data.
type Description struct {
	Description     string `json:"description"`
	DescriptionType string `json:"descriptionType,omitempty"`
	Lang            string `json:"lang,omitempty"`
}

// GeoPoint is a point location in space.
type GeoPoint struct {
	PointLongitude json.Number `json:"pointLongitude"`
	PointLatitude  json.Number `json:"pointLatitude"`
}

// GeoBox is the spatial limits of a box.
type GeoBox struct {
	WestBoundLongitude json.Number `json:"westBoundLongitude"`
	EastBoundLongitude json.Number `json:"eastBoundLongitude"`
	SouthBoundLatitude json.Number `json:"southBoundLatitude"`
	NorthBoundLatitude json.Number `json:"northBoundLatitude"`
}

// GeoPolygonPoint is one vertex of a drawn polygon, optionally carrying a
// point located inside the polygon for disambiguation.
type GeoPolygonPoint struct {
	PolygonPoint   *GeoPoint `json:"polygonPoint,omitempty"`
	InPolygonPoint *GeoPoint `json:"inPolygonPoint,omitempty"`
}

// GeoLocation is a spatial region or named place where the data was gathered.
type GeoLocation struct {
	GeoLocationPlace   string            `json:"geoLocationPlace,omitempty"`
	GeoLocationPoint   *GeoPoint         `json:"geoLocationPoint,omitempty"`
	GeoLocationBox     *GeoBox           `json:"geoLocationBox,omitempty"`
	GeoLocationPolygon []GeoPolygonPoint `json:"geoLocationPolygon,omitempty"`
}

// FundingReference is information about financial support for the data.
type FundingReference struct {
	FunderName           string `json:"funderName"`
	FunderIdentifier     string `json:"funderIdentifier,omitempty"`
	FunderIdentifierType string `json:"funderIdentifierType,omitempty"`
	AwardNumber          string `json:"awardNumber,omitempty"`
	AwardTitle           string `json:"awardTitle,omitempty"`
	AwardURI             string `json:"awardUri,omitempty"`
}

// RelatedIdentifier is an identifier of related resources.
type RelatedIdentifier struct {
	RelatedIdentifier     string `json:"relatedIdentifier"`
	RelatedIdentifierType string `json:"relatedIdentifierType"`
	RelationType          string `json:"relationType"`
	ResourceTypeGeneral   string `json:"resourceTypeGeneral,omitempty"`
}

// AlternateIdentifier is an identifier other than the primary DOI.
type AlternateIdentifier struct {
	AlternateIdentifier     string `json:"alternateIdentifier"`
	AlternateIdentifierType string `json:"alternateIdentifierType"`
}

// Rights is a license or rights statement attached to the data.
type Rights struct {
	Rights                 string `json:"rights,omitempty"`
	RightsURI              string `json:"rightsUri,omitempty"`
	RightsIdentifier       string `json:"rightsIdentifier,omitempty"`
	RightsIdentifierScheme string `json:"rightsIdentifierScheme,omitempty"`
	SchemeURI              string `json:"schemeUri,omitempty"`
	Lang                   string `json:"lang,omitempty"`
}

// Types describes the nature of the resource.
type Types struct {
	ResourceType        string `json:"resourceType,omitempty"`
	ResourceTypeGeneral string `json:"resourceTypeGeneral,omitempty"`
}

// Metadata is the DataCite metadata document attached to a submission.
type Metadata struct {
	Creators             []Creator             `json:"creators,omitempty"`
	Publisher            *Publisher            `json:"publisher,omitempty"`
	Contributors         []Contributor         `json:"contributors,omitempty"`
	Subjects             []Subject             `json:"subjects,omitempty"`
	Dates                []Date                `json:"dates,omitempty"`
	Titles               []Title               `json:"titles,omitempty"`
	Descriptions         []Description         `json:"descriptions,omitempty"`
	GeoLocations         []GeoLocation         `json:"geoLocations,omitempty"`
	FundingReferences    []FundingReference    `json:"fundingReferences,omitempty"`
	RelatedIdentifiers   []RelatedIdentifier   `json:"relatedIdentifiers,omitempty"`
	AlternateIdentifiers []AlternateIdentifier `json:"alternateIdentifiers,omitempty"`
	RightsList           []Rights              `json:"rightsList,omitempty"`
	Types                *Types                `json:"types,omitempty"`
	Sizes                []string              `json:"sizes,omitempty"`
	Formats              []string              `json:"formats,omitempty"`
	Version              string                `json:"version,omitempty"`
	Language             string                `json:"language,omitempty"`
	PublicationYear      int                   `json:"publicationYear,omitempty"`
}

// Parse decodes a DataCite document, rejecting unknown fields.
func Parse(doc []byte) (*Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()

	var md Metadata
	if err := dec.Decode(&md); err != nil {
		return nil, apperrors.NewUserError("invalid DataCite metadata", err)
	}
	return &md, nil
}
