// Package sic classifies UK SIC 2007 codes into their sections and reads the
// reference list of codes used to populate the sic_codes table.
package sic

import (
	"strconv"
	"strings"
)

// Section is a top-level UK SIC 2007 section.
type Section struct {
	Letter string `json:"letter"`
	Title  string `json:"title"`
}

// Unclassified is returned for codes outside every section range.
var Unclassified = Section{Title: "Unclassified"}

// Label renders the section the way it is stored, e.g. "Section C".
func (s Section) Label() string {
	if s.Letter == "" {
		return s.Title
	}
	return "Section " + s.Letter
}

type sectionRange struct {
	min, max int
	section  Section
}

// Ranges are inclusive and ordered by code.
var sections = []sectionRange{
	{1110, 3220, Section{"A", "Agriculture, Forestry and Fishing"}},
	{5101, 9900, Section{"B", "Mining and Quarrying"}},
	{10110, 33200, Section{"C", "Manufacturing"}},
	{35110, 35300, Section{"D", "Electricity, Gas, Steam and Air Conditioning Supply"}},
	{36000, 39000, Section{"E", "Water Supply, Sewerage, Waste Management and Remediation Activities"}},
	{41100, 43999, Section{"F", "Construction"}},
	{45111, 47990, Section{"G", "Wholesale and Retail Trade; Repair of Motor Vehicles and Motorcycles"}},
	{49100, 53202, Section{"H", "Transportation and Storage"}},
	{55100, 56302, Section{"I", "Accommodation and Food Service Activities"}},
	{58110, 63990, Section{"J", "Information and Communication"}},
	{64110, 66300, Section{"K", "Financial and Insurance Activities"}},
	{68100, 68320, Section{"L", "Real Estate Activities"}},
	{69101, 75000, Section{"M", "Professional, Scientific and Technical Activities"}},
	{77110, 82990, Section{"N", "Administrative and Support Service Activities"}},
	{84110, 84300, Section{"O", "Public Administration and Defence; Compulsory Social Security"}},
	{85100, 85600, Section{"P", "Education"}},
	{86101, 88990, Section{"Q", "Human Health and Social Work Activities"}},
	{90010, 93290, Section{"R", "Arts, Entertainment and Recreation"}},
	{94110, 96090, Section{"S", "Other Service Activities"}},
	{97000, 98200, Section{"T", "Activities of Households as Employers"}},
	{99000, 99999, Section{"U", "Activities of Extraterritorial Organisations and Bodies"}},
}

// SectionFor returns the section a SIC code belongs to.
func SectionFor(code string) Section {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return Unclassified
	}
	for _, r := range sections {
		if n >= r.min && n <= r.max {
			return r.section
		}
	}
	return Unclassified
}

// Sections returns every section in code order.
func Sections() []Section {
	out := make([]Section, len(sections))
	for i, r := range sections {
		out[i] = r.section
	}
	return out
}
