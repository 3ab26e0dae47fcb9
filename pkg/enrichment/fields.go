package enrichment

import (
	"strings"
	"time"

	"github.com/epireve/uk-gateway/pkg/client"
	"github.com/epireve/uk-gateway/pkg/sic"
	"github.com/epireve/uk-gateway/pkg/store"
)

const dateLayout = "2006-01-02"

// enrichedFields merges the search match and the profile into the columns
// written for the record. The profile wins where both carry a value.
func enrichedFields(c *client.Candidate, p *client.Profile, at time.Time) store.EnrichedFields {
	f := store.EnrichedFields{
		CompanyNumber:  firstNonEmpty(p.CompanyNumber, c.CompanyNumber),
		RegisteredName: firstNonEmpty(p.CompanyName, c.Title),
		Status:         firstNonEmpty(p.CompanyStatus, c.CompanyStatus),
		Type:           firstNonEmpty(p.Type, c.CompanyType),
		Address:        firstNonEmpty(p.RegisteredOfficeAddress.Line(), c.AddressSnippet),
		Postcode:       strings.TrimSpace(p.RegisteredOfficeAddress.PostalCode),
		SICCodes:       p.SICCodes,
		RawProfile:     []byte(p.Raw),
		ETag:           p.ETag,

		HasCharges:                           p.HasCharges,
		HasInsolvencyHistory:                 p.HasInsolvencyHistory,
		HasBeenLiquidated:                    p.HasBeenLiquidated,
		RegisteredOfficeIsInDispute:          p.RegisteredOfficeIsInDispute,
		UndeliverableRegisteredOfficeAddress: p.UndeliverableRegisteredOfficeAddress,

		EnrichedAt: at.UTC(),
	}

	if len(p.SICCodes) > 0 {
		f.SICSection = sic.SectionFor(p.SICCodes[0]).Label()
	}
	if d, err := time.Parse(dateLayout, strings.TrimSpace(p.DateOfCreation)); err == nil {
		f.IncorporationDate = &d
	}
	return f
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
