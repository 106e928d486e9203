// Package credit models the DataCite/CRediT-flavored provenance metadata
// attached to each frictionless.DataResource in a synced ns-pond mirror:
// which article a mirrored file was derived from, who wrote it, and under
// what license, expressed with the same contributor/identifier vocabulary
// DataCite uses for dataset citation.
package credit

// Contributor is one author or organization credited for a resource.
//
// A Contributor must set ContributorType to either "Person" or
// "Organization", and carry either Name (for an organization, or a person
// when given/family name aren't available) or GivenName+FamilyName.
// ContributorRoles draws values from the DataCite/CRediT contributor role
// taxonomy (https://credit.niso.org), e.g. "Author", "Investigation".
type Contributor struct {
	ContributorType string `json:"contributor_type"`
	// ContributorId is a persistent identifier for the contributor, most
	// often an ORCID carried over from extract.Author.
	ContributorId    string         `json:"contributor_id,omitempty"`
	Name             string         `json:"name,omitempty"`
	GivenName        string         `json:"given_name,omitempty"`
	FamilyName       string         `json:"family_name,omitempty"`
	Affiliations     []Organization `json:"affiliations,omitempty"`
	ContributorRoles string         `json:"contributor_roles,omitempty"`
}

// CreditMetadata describes the provenance of one mirrored resource: the
// article slug it was derived from, its authors, and its licensing.
//
// ResourceType follows DataCite's resourceTypeGeneral vocabulary
// (https://support.datacite.org/docs/datacite-metadata-schema-v44-mandatory-properties#10a-resourcetypegeneral).
// This pipeline mints "dataset" for mirrored tables/analyses/coordinates
// and "text" for a mirrored article full text. Identifier is the slug the
// resource was derived from (the "{pmid}|{doi}|{pmcid}" form).
type CreditMetadata struct {
	Identifier           string        `json:"identifier"`
	ResourceType         string        `json:"resource_type"`
	Titles               []Title       `json:"titles,omitempty"`
	Descriptions         []Description `json:"descriptions,omitempty"`
	Contributors         []Contributor `json:"contributors,omitempty"`
	Dates                []EventDate   `json:"dates,omitempty"`
	License              License       `json:"license,omitzero"`
	RelatedIdentifiers   []PermanentID `json:"related_identifiers,omitempty"`
	CreditMetadataSource string        `json:"credit_metadata_source,omitempty"`
}

// Description is freeform textual information about the resource, e.g.
// the article abstract.
type Description struct {
	DescriptionText string `json:"description_text"`
	DescriptionType string `json:"description_type,omitempty"`
}

// EventDate records one lifecycle event ("Published", "Extracted", ...)
// and the date it occurred, in DataCite's YYYY/YYYY-MM/YYYY-MM-DD form.
type EventDate struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

// License names the usage license for the resource: an SPDX identifier
// where one applies, or a link to the license text otherwise, taken from
// extract.ArticleMetadata.License when the article reports one.
type License struct {
	Id  string `json:"id,omitempty"`
	Url string `json:"url,omitempty"`
}

// Organization identifies an institution a Contributor is affiliated
// with, taken from extract.Author.Affiliation when present.
type Organization struct {
	OrganizationId   string `json:"organization_id,omitempty"`
	OrganizationName string `json:"organization_name"`
}

// PermanentID is a persistent identifier for some other entity related to
// this resource -- most commonly the article's own DOI/PMID/PMCID, when
// the resource being described is a table, analysis, or coordinate file
// extracted from that article rather than the article text itself.
type PermanentID struct {
	Id               string `json:"id"`
	Description      string `json:"description,omitempty"`
	RelationshipType string `json:"relationship_type"`
}

// Title is the title of the resource, or of the article it was derived
// from.
type Title struct {
	Title     string `json:"title"`
	TitleType string `json:"title_type,omitempty"`
}
