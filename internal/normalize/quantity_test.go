package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateQuantity(t *testing.T) {
	tests := []struct {
		posology string
		want     *int
	}{
		{"Tomar 1 cápsula 2x ao dia por 30 dias", ptr(60)},
		{"Tomar 2 comprimidos 3 vezes ao dia durante 10 dias", ptr(60)},
		{"uma vez ao dia por 3 meses", ptr(90)},
		{"1 dose de 8 em 8 horas por 7 dias", ptr(21)},
		{"a cada 12h durante 2 semanas", ptr(28)},
		{"Take 1 capsule twice a day for 15 days", ptr(30)},
		{"every 6 hours for 5 days", ptr(20)},
		{"Tomar diariamente por 60 dias", ptr(60)},
		{"Uso contínuo", nil},
		{"2x ao dia", nil},
		{"por 30 dias", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.posology, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateQuantity(tt.posology))
		})
	}
}
