package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStripsAccentsAndUppercases(t *testing.T) {
	assert.Equal(t, "FACTURA ELECTRONICA DE VENTA", Normalize("Factura Electrónica de Venta"))
	assert.Equal(t, "ATENCION DOMICILIARIA", Normalize("atención domiciliaria"))
	assert.Equal(t, "CREACION", Normalize("CREACIÓN"))
}

func TestMatchRules(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Category
	}{
		{"fev invoice title", "FACTURA ELECTRÓNICA DE VENTA No. OCFE 5871", FEV},
		{"fev credit note", "NOTA DE CRÉDITO ELECTRÓNICA", FEV},
		{"fev charge detail", "DETALLE DE CARGOS del periodo", FEV},
		{"crc attendance", "REGISTRO DE ATENCIÓN DOMICILIARIA", CRC},
		{"pde authorization", "AUTORIZACIÓN SERVICIOS de salud", PDE},
		{"opf order alone", "ORDEN MÉDICA ambulatoria", OPF},
		{"opf order with decisions", "ORDEN MÉDICA ... DECISIONES tomadas", OPF},
		{"hev clinical history", "HISTORIA CLÍNICA del paciente", HEV},
		{"hev social work", "Informe de TRABAJO SOCIAL", HEV},
		{"hev caregiver log", "REGISTRO DE ACTIVIDADES DE CUIDADOR", HEV},
		{"hev service certification", "CERTIFICACIÓN PRESTACIÓN DE SERVICIOS", HEV},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Match(tc.text, false)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatchOrderOpfBeatsHevWhenOrderAndDecision(t *testing.T) {
	// ORDEN MEDICA + DECISION outranks every other rule, even when HEV
	// markers appear on the same page.
	got, ok := Match("ORDEN MEDICA ... HISTORIA CLINICA ... DECISION", false)
	require.True(t, ok)
	assert.Equal(t, OPF, got)
}

func TestMatchCertificationBeforeChargeDetail(t *testing.T) {
	got, ok := Match("CERTIFICACIÓN DETALLE DE CARGOS", false)
	require.True(t, ok)
	assert.Equal(t, HEV, got, "certification wording is HEV even though it contains the FEV charge-detail phrase")
}

func TestMatchNoHit(t *testing.T) {
	_, ok := Match("texto cualquiera sin marcadores", false)
	assert.False(t, ok)
}

func TestMatchIsPure(t *testing.T) {
	text := "REGISTRO DE ATENCIÓN DOMICILIARIA turno mañana"
	first, ok1 := Match(text, true)
	second, ok2 := Match(text, true)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
}

const crcTableHeader = "N° SERVICIO PRESTADOR TURNO HORA NOMBRE TUTOR/PACIENTE FIRMA CUIDADOR"

func TestCrcTableHeuristicRequiresFlag(t *testing.T) {
	_, ok := Match(crcTableHeader, false)
	assert.False(t, ok, "table heuristic must not fire without the flag")

	got, ok := Match(crcTableHeader, true)
	require.True(t, ok)
	assert.Equal(t, CRC, got)
}

func TestCrcTableHeuristicBlockedByFechaCreacion(t *testing.T) {
	_, ok := Match(crcTableHeader+" FECHA CREACIÓN: 01/01/2024", true)
	assert.False(t, ok)
}

func TestCrcTableFallbackDatesAndTimes(t *testing.T) {
	text := "CUIDADOR asignado 01/02/2024 03/02/2024 07:00 19:00"
	got, ok := Match(text, true)
	require.True(t, ok)
	assert.Equal(t, CRC, got)
}

func TestValid(t *testing.T) {
	for _, c := range []string{"CRC", "FEV", "HEV", "OPF", "PDE"} {
		assert.True(t, Valid(c))
	}
	assert.False(t, Valid("XYZ"))
	assert.False(t, Valid(""))
}
