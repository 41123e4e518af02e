package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jask/jaskledger/internal/apperr"
)

// Mapping names, per transaction field, the source column it is read from.
// Date, Amount and Description are mandatory.
type Mapping struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Type        string `json:"type,omitempty"`
	Category    string `json:"category,omitempty"`
	Account     string `json:"account,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

func (m Mapping) columns() []struct{ field, column string } {
	return []struct{ field, column string }{
		{"date", m.Date},
		{"amount", m.Amount},
		{"description", m.Description},
		{"type", m.Type},
		{"category", m.Category},
		{"account", m.Account},
		{"reference", m.Reference},
	}
}

// Validate checks that the mandatory fields are mapped and that every mapped
// column exists in headers.
func (m Mapping) Validate(headers []string) error {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	var errs []error
	for i, c := range m.columns() {
		if c.column == "" {
			if i < 3 {
				errs = append(errs, apperr.Invalid("mapping."+c.field, "is required"))
			}
			continue
		}
		if !known[c.column] {
			errs = append(errs, apperr.Invalid("mapping."+c.field, "unknown column %q", c.column))
		}
	}
	return errors.Join(errs...)
}

// Fields are the raw source values of one row, resolved once through a Mapping.
type Fields struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Type        string `json:"type,omitempty"`
	Category    string `json:"category,omitempty"`
	Account     string `json:"account,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

// Resolve picks the mapped values out of a raw row. Missing columns resolve
// to the empty string.
func (m Mapping) Resolve(raw map[string]string) Fields {
	get := func(col string) string {
		if col == "" {
			return ""
		}
		return raw[col]
	}
	return Fields{
		Date:        get(m.Date),
		Amount:      get(m.Amount),
		Description: get(m.Description),
		Type:        get(m.Type),
		Category:    get(m.Category),
		Account:     get(m.Account),
		Reference:   get(m.Reference),
	}
}

func (m Mapping) String() string {
	var parts []string
	for _, c := range m.columns() {
		if c.column != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", c.field, c.column))
		}
	}
	return strings.Join(parts, ",")
}
