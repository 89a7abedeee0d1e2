package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverloop/redrive/pkg/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			"uuid",
			"order 550e8400-e29b-41d4-a716-446655440000 not found",
			"order X not found",
		},
		{
			"iso timestamp",
			"expired at 2024-03-01T12:30:45Z",
			"expired at X",
		},
		{
			"timestamp with offset",
			"expired at 2024-03-01T12:30:45.123+02:00",
			"expired at X",
		},
		{
			"number with unit",
			"timeout after 5000ms",
			"timeout after Xms",
		},
		{
			"kilobytes",
			"payload exceeds 2kb limit",
			"payload exceeds Xkb limit",
		},
		{
			"long bare integer",
			"account 18273645 suspended",
			"account X suspended",
		},
		{
			"short numbers preserved",
			"upstream returned 429",
			"upstream returned 429",
		},
		{
			"http 503 preserved",
			"503 from gateway",
			"503 from gateway",
		},
		{
			"hex run",
			"bad checksum deadbeefcafe0123",
			"bad checksum X",
		},
		{
			"consecutive placeholders collapse",
			"trace 550e8400-e29b-41d4-a716-446655440000 99887766 failed",
			"trace X failed",
		},
		{
			"no volatile values",
			"connection refused",
			"connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"timeout after 5000ms",
		"order 550e8400-e29b-41d4-a716-446655440000 at 2024-03-01T12:30:45Z",
		"account 18273645 checksum deadbeefcafe0123",
		"upstream returned 429",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestHashStableAcrossMagnitudes(t *testing.T) {
	a := models.ErrorPattern{
		Type:            "TimeoutError",
		Message:         "timeout after 5000ms",
		AffectedService: "OrderService",
	}
	b := a
	b.Message = "timeout after 8000ms"

	assert.Equal(t, Hash(a), Hash(b))
}

func TestHashShape(t *testing.T) {
	h := Hash(models.ErrorPattern{
		Type:            "NetworkError",
		Message:         "ETIMEDOUT: socket hang up",
		AffectedService: "PaymentService",
	})
	require.Len(t, h, 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", h)
}

func TestHashDistinguishesIdentityFields(t *testing.T) {
	base := models.ErrorPattern{
		Type:            "TimeoutError",
		Code:            "ETIMEDOUT",
		Message:         "timeout after 5000ms",
		AffectedService: "OrderService",
	}

	otherType := base
	otherType.Type = "NetworkError"
	assert.NotEqual(t, Hash(base), Hash(otherType))

	otherService := base
	otherService.AffectedService = "BillingService"
	assert.NotEqual(t, Hash(base), Hash(otherService))

	// Case differences in identity fields do not change the hash.
	folded := base
	folded.Type = "timeouterror"
	folded.Code = "etimedout"
	folded.AffectedService = "orderservice"
	assert.Equal(t, Hash(base), Hash(folded))
}

func TestHashIgnoresStackAndFirstLineOnly(t *testing.T) {
	base := models.ErrorPattern{
		Type:            "DbError",
		Message:         "deadlock detected",
		AffectedService: "InventoryService",
	}

	withStack := base
	withStack.StackTop = []string{"at query (db.js:10)", "at run (worker.js:3)"}
	assert.Equal(t, Hash(base), Hash(withStack))

	multiLine := base
	multiLine.Message = "deadlock detected\nat query (db.js:10)"
	assert.Equal(t, Hash(base), Hash(multiLine))
}
