package classify

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Category is the closed set of page classifications.
type Category string

const (
	CRC Category = "CRC"
	FEV Category = "FEV"
	HEV Category = "HEV"
	OPF Category = "OPF"
	PDE Category = "PDE"
)

// Categories in the fixed output order used by assembly.
var Categories = []Category{CRC, FEV, HEV, OPF, PDE}

// Valid reports whether s names a known category.
func Valid(s string) bool {
	switch Category(s) {
	case CRC, FEV, HEV, OPF, PDE:
		return true
	}
	return false
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize strips combining accents and uppercases, so rule patterns match
// scans regardless of diacritics.
func Normalize(text string) string {
	out, _, err := transform.String(stripAccents, text)
	if err != nil {
		out = text
	}
	return strings.ToUpper(out)
}

// Match classifies a normalized-or-raw text fragment. Rules are ordered; the
// first hit wins. The CRC table heuristic only participates when allowCrcTable
// is set, because table-shaped pages are ambiguous unless a sibling page in
// the same PDF carries a strong CRC marker.
func Match(text string, allowCrcTable bool) (Category, bool) {
	t := Normalize(text)

	hasOrdenMedica := strings.Contains(t, "ORDEN MEDICA")
	if hasOrdenMedica && (strings.Contains(t, "DECISIONES") || strings.Contains(t, "DECISION")) {
		return OPF, true
	}

	for _, p := range []string{
		"REGISTRO DE ACTIVIDADES DE CUIDADOR",
		"REGISTRO DE ACTIVIDADES DE CUIDADO",
		"HISTORIA CLINICA",
		"TRABAJO SOCIAL",
	} {
		if strings.Contains(t, p) {
			return HEV, true
		}
	}

	if hasOrdenMedica {
		return OPF, true
	}
	if strings.Contains(t, "DECISION") {
		for _, p := range []string{"MES INICIO", "MES", "DETALLES", "OBSERVACIONES"} {
			if strings.Contains(t, p) {
				return OPF, true
			}
		}
	}

	if strings.Contains(t, "AUTORIZACION SERVICIOS") {
		return PDE, true
	}
	if strings.Contains(t, "REGISTRO DE ATENCION DOMICILIARIA") {
		return CRC, true
	}

	for _, p := range []string{
		"CERTIFICACION PRESTACION DE SERVICIOS",
		"CERTIFICACION DETALLE DE CARGOS",
	} {
		if strings.Contains(t, p) {
			return HEV, true
		}
	}

	for _, p := range []string{
		"FACTURA ELECTRONICA DE VENTA",
		"NOTA DE CREDITO ELECTRONICA",
		"DETALLE DE CARGOS",
		"FACTURA OCFE",
	} {
		if strings.Contains(t, p) {
			return FEV, true
		}
	}

	if allowCrcTable && matchCrcTable(t) {
		return CRC, true
	}
	return "", false
}

var (
	dateRe = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	timeRe = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
)

// matchCrcTable detects the attendance-sheet table by its header vocabulary.
// Pages carrying "FECHA CREACION" belong to other forms and never match.
func matchCrcTable(t string) bool {
	if strings.Contains(t, "FECHA CREACION") {
		return false
	}

	hasNumbering := strings.Contains(t, "N°") || strings.Contains(t, "NO.") || strings.Contains(t, "NRO")
	hasNombreSubject := strings.Contains(t, "NOMBRE") &&
		(strings.Contains(t, "TUTOR") || strings.Contains(t, "PACIENTE"))
	hasCuidador := strings.Contains(t, "CUIDADOR")

	rich := strings.Contains(t, "SERVICIO") &&
		strings.Contains(t, "PRESTADOR") &&
		strings.Contains(t, "TURNO") &&
		(strings.Contains(t, "HORA") || strings.Contains(t, "HORARIO")) &&
		hasNombreSubject &&
		strings.Contains(t, "FIRMA") &&
		hasNumbering &&
		hasCuidador
	if rich {
		return true
	}

	if !hasCuidador {
		return false
	}
	keywords := 0
	for _, k := range []string{"SERVICIO", "PRESTADOR", "TURNO", "HORA", "HORARIO", "NOMBRE", "TUTOR", "PACIENTE", "FIRMA"} {
		if strings.Contains(t, k) {
			keywords++
		}
	}
	if keywords >= 5 {
		return true
	}
	return len(dateRe.FindAllString(t, 3)) >= 2 && len(timeRe.FindAllString(t, 3)) >= 2
}
