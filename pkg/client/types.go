package client

import (
	"encoding/json"
	"strings"
)

// Candidate is the best match returned by a company name search.
type Candidate struct {
	CompanyNumber  string `json:"company_number"`
	Title          string `json:"title"`
	CompanyStatus  string `json:"company_status"`
	CompanyType    string `json:"company_type"`
	AddressSnippet string `json:"address_snippet"`

	// Cached is set when the result was served from the lookup cache.
	Cached bool `json:"-"`
}

type searchResponse struct {
	Items        []Candidate `json:"items"`
	TotalResults int         `json:"total_results"`
}

// Address is a registered office address.
type Address struct {
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2"`
	Locality     string `json:"locality"`
	Region       string `json:"region"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

// Line formats the address as a single comma-separated line, skipping empty
// parts. The postcode is included last.
func (a Address) Line() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.AddressLine1, a.AddressLine2, a.Locality, a.Region, a.Country, a.PostalCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Profile is the company profile resource.
type Profile struct {
	CompanyName                          string   `json:"company_name"`
	CompanyNumber                        string   `json:"company_number"`
	CompanyStatus                        string   `json:"company_status"`
	Type                                 string   `json:"type"`
	RegisteredOfficeAddress              Address  `json:"registered_office_address"`
	SICCodes                             []string `json:"sic_codes"`
	DateOfCreation                       string   `json:"date_of_creation"`
	ETag                                 string   `json:"etag"`
	HasCharges                           bool     `json:"has_charges"`
	HasInsolvencyHistory                 bool     `json:"has_insolvency_history"`
	HasBeenLiquidated                    bool     `json:"has_been_liquidated"`
	RegisteredOfficeIsInDispute          bool     `json:"registered_office_is_in_dispute"`
	UndeliverableRegisteredOfficeAddress bool     `json:"undeliverable_registered_office_address"`

	// Raw is the profile body as received.
	Raw json.RawMessage `json:"-"`

	// Cached is set when the result was served from the lookup cache.
	Cached bool `json:"-"`
}
