package invoice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeNIT(t *testing.T) {
	cases := map[string]string{
		"900.204.617 - 5": "900204617",
		"900204617-5":     "900204617",
		"900204617":       "900204617",
		"900,204,617":     "900204617",
		"  900204617 ":    "900204617",
		"":                "",
		"sin digitos":     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeNIT(in), "input %q", in)
	}
}

func TestNormalizeInvoice(t *testing.T) {
	assert.Equal(t, "OCFE5871", NormalizeInvoice("OCFE 5871"))
	assert.Equal(t, "OCFE5871", NormalizeInvoice("5871"))
	assert.Equal(t, "OCFE5871", NormalizeInvoice("ocfe5871"))
	assert.Equal(t, "FVE123456", NormalizeInvoice("FVE123456 extra"))

	// Prefixes that name other identifiers are rejected outright.
	assert.Equal(t, "", NormalizeInvoice("NIT900"))
	assert.Equal(t, "", NormalizeInvoice("CUFE123456"))
	assert.Equal(t, "", NormalizeInvoice("CUDE123456"))
	assert.Equal(t, "", NormalizeInvoice(""))
	assert.Equal(t, "", NormalizeInvoice("AB12"))
}

func TestExtractFromTextWindow(t *testing.T) {
	text := "encabezado irrelevante\nFACTURA ELECTRONICA DE VENTA\nNIT: 900.204.617-5\nOCFE 5871\npie de pagina"
	nit, code := ExtractFromText(text)
	assert.Equal(t, "900204617", nit)
	assert.Equal(t, "OCFE5871", code)
}

func TestExtractFromTextHintedGeneralCode(t *testing.T) {
	text := "FACTURA ELECTRONICA DE VENTA No. FVE 123456\nNIT 830098765-1"
	nit, code := ExtractFromText(text)
	assert.Equal(t, "830098765", nit)
	assert.Equal(t, "FVE123456", code)
}

func TestExtractFromTextNothing(t *testing.T) {
	nit, code := ExtractFromText("pagina sin identificadores")
	assert.Empty(t, nit)
	assert.Empty(t, code)
}

func TestExtractFromTextRejectsNitAsCode(t *testing.T) {
	// NIT must not be mistaken for an invoice code by the general matcher.
	text := "FACTURA ELECTRONICA DE VENTA\nNIT 900204617"
	_, code := ExtractFromText(text)
	assert.NotEqual(t, "NIT900204617", code)
}
