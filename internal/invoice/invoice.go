package invoice

import (
	"regexp"
	"strings"
)

// Metadata is the pair that names every output artifact.
type Metadata struct {
	Nit  string
	Code string
}

var (
	nitRe      = regexp.MustCompile(`(?i)\bNIT\b\s*[:\-]?\s*([0-9\.\, ]{6,15}(?:\s*-\s*\d)?)`)
	ocfeRe     = regexp.MustCompile(`(?i)\bOCFE\s*(\d{3,})\b`)
	codeRe     = regexp.MustCompile(`\b([A-Z]{3,6})\s*(\d{3,})\b`)
	prefixedRe = regexp.MustCompile(`^([A-Z]{3,6})(\d{3,})`)
	digitsRe   = regexp.MustCompile(`^\d+$`)
)

// rejectedPrefixes are letter runs that look like invoice prefixes but name
// other identifiers on the same page.
var rejectedPrefixes = map[string]bool{"NIT": true, "CUFE": true, "CUDE": true}

// invoiceHints mark a block as likely carrying the invoice number, enabling
// the general prefix+digits match.
var invoiceHints = []string{"FACTURA", "ELECTR", "VENTA", "N°", "NO.", "NRO", "CUFE", "BUFE"}

// NormalizeNIT reduces a raw NIT capture to its base digits: dots, commas and
// spaces removed, verification digit after a hyphen dropped.
func NormalizeNIT(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(".", "", ",", "", " ", "").Replace(s)
	if i := strings.Index(s, "-"); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// NormalizeInvoice canonicalizes an invoice code. Pure digits get the OCFE
// prefix; otherwise the input must start with a 3-6 letter prefix that is not
// another identifier's. Empty result means the input is not an invoice code.
func NormalizeInvoice(raw string) string {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if s == "" {
		return ""
	}
	if digitsRe.MatchString(s) {
		return "OCFE" + s
	}
	m := prefixedRe.FindStringSubmatch(s)
	if m == nil || rejectedPrefixes[m[1]] {
		return ""
	}
	return m[1] + m[2]
}

func hasInvoiceHint(upper string) bool {
	for _, h := range invoiceHints {
		if strings.Contains(upper, h) {
			return true
		}
	}
	return false
}

// ExtractFromText is the non-positional fallback over concatenated FEV text.
// It narrows to a window around the invoice title when present, then looks
// for an explicit OCFE code, then for a hinted general code. The NIT search
// runs over the same window.
func ExtractFromText(text string) (nit, code string) {
	window := text
	upper := strings.ToUpper(text)
	if idx := strings.Index(upper, "FACTURA ELECTRONICA DE VENTA"); idx >= 0 {
		start := idx - 200
		if start < 0 {
			start = 0
		}
		end := idx + 2000
		if end > len(text) {
			end = len(text)
		}
		window = text[start:end]
	}

	if m := ocfeRe.FindStringSubmatch(window); m != nil {
		code = "OCFE" + m[1]
	} else if hasInvoiceHint(strings.ToUpper(window)) {
		for _, m := range codeRe.FindAllStringSubmatch(strings.ToUpper(window), -1) {
			if rejectedPrefixes[m[1]] {
				continue
			}
			code = m[1] + m[2]
			break
		}
	}

	if m := nitRe.FindStringSubmatch(window); m != nil {
		nit = NormalizeNIT(m[1])
	}
	if nit == "" {
		if m := nitRe.FindStringSubmatch(text); m != nil {
			nit = NormalizeNIT(m[1])
		}
	}
	if code == "" {
		if m := ocfeRe.FindStringSubmatch(text); m != nil {
			code = "OCFE" + m[1]
		}
	}
	return nit, code
}
