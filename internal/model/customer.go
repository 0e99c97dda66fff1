package model

// Customer is the slice of the CRM customer record the enrichment core needs:
// the website URL to probe and the locality fields used as AI prompt context.
// The full CRM schema lives outside this module.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}
