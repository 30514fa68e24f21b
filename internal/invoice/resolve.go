package invoice

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/tipificador/internal/apperr"
)

// Overrides carries caller-provided values that take precedence over
// detection once normalized.
type Overrides struct {
	Nit  string
	Code string
}

// Resolve produces the invoice metadata for a FEV page set. Overrides are
// normalized and used first; missing values fall to the positional search and
// then to the plain-text fallback. If either value is still missing the
// result is an Unresolved error carrying the partial detections so the caller
// can ask for manual input.
func Resolve(ov Overrides, pages []Page, texts []string) (Metadata, error) {
	nit := NormalizeNIT(ov.Nit)
	code := NormalizeInvoice(ov.Code)

	if nit == "" || code == "" {
		posNit, posCode := ExtractPositional(pages)
		if nit == "" {
			nit = posNit
		}
		if code == "" {
			code = posCode
		}
	}

	if nit == "" || code == "" {
		txtNit, txtCode := ExtractFromText(strings.Join(texts, "\n"))
		if nit == "" {
			nit = txtNit
		}
		if code == "" {
			code = txtCode
		}
	}

	if nit == "" || code == "" {
		log.Warn().Str("nit", nit).Str("code", code).Msg("invoice metadata unresolved")
		return Metadata{}, apperr.NewUnresolved(nit, code)
	}
	return Metadata{Nit: nit, Code: code}, nil
}
