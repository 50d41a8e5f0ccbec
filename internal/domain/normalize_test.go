package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"restohub/internal/domain"
)

func TestNormalizeTenant(t *testing.T) {
	assert.Equal(t, "cafe9", domain.NormalizeTenant(" Cafe9 "))
	assert.Equal(t, "cafe9", domain.NormalizeTenant("cafe9"))
}

func TestNormalizeTable(t *testing.T) {
	tests := []struct {
		name   string
		tenant string
		table  string
		want   string
	}{
		{name: "bare", tenant: "cafe9", table: "t12", want: "t12"},
		{name: "colon_prefixed", tenant: "cafe9", table: "cafe9:t12", want: "t12"},
		{name: "underscore_prefixed", tenant: "cafe9", table: "cafe9_t12", want: "t12"},
		{name: "dash_prefixed", tenant: "cafe9", table: "cafe9-t12", want: "t12"},
		{name: "mixed_case", tenant: "Cafe9", table: "CAFE9:T12", want: "t12"},
		{name: "other_tenant_prefix_kept", tenant: "cafe9", table: "bistro:t12", want: "bistro:t12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.NormalizeTable(tt.tenant, tt.table))
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	s, err := domain.ParseOrderStatus("preparing")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPreparing, s)

	_, err = domain.ParseOrderStatus("grilling")
	assert.Error(t, err)
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, domain.StatusCompleted.Terminal())
	assert.True(t, domain.StatusDelivered.Terminal())
	assert.True(t, domain.StatusCanceled.Terminal())
	assert.False(t, domain.StatusReady.Terminal())
}
