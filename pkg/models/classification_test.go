package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCategoryIsValid(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		valid    bool
	}{
		{"transient", CategoryTransient, true},
		{"poison-pill", CategoryPoisonPill, true},
		{"systemic", CategorySystemic, true},
		{"invalid", Category("RETRYABLE"), false},
		{"empty", Category(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.category.IsValid())
		})
	}
}

func TestCategoryActionMapping(t *testing.T) {
	assert.Equal(t, ActionReplay, CategoryTransient.Action())
	assert.Equal(t, ActionArchive, CategoryPoisonPill.Action())
	assert.Equal(t, ActionEscalate, CategorySystemic.Action())
}

func TestActionTaken(t *testing.T) {
	assert.Equal(t, ActionTakenReplayed, ActionReplay.Taken())
	assert.Equal(t, ActionTakenArchived, ActionArchive.Taken())
	assert.Equal(t, ActionTakenEscalated, ActionEscalate.Taken())
}

func TestDetailTypeFor(t *testing.T) {
	assert.Equal(t, DetailTypeTransient, DetailTypeFor(CategoryTransient))
	assert.Equal(t, DetailTypePoisonPill, DetailTypeFor(CategoryPoisonPill))
	assert.Equal(t, DetailTypeSystemic, DetailTypeFor(CategorySystemic))
}

func TestBackoffDelay(t *testing.T) {
	base := 30 * time.Second
	max := 900 * time.Second

	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{"first retry", 0, 30 * time.Second},
		{"second retry", 1, 60 * time.Second},
		{"third retry", 2, 120 * time.Second},
		{"fourth retry", 3, 240 * time.Second},
		{"fifth retry", 4, 480 * time.Second},
		{"saturates at max", 5, 900 * time.Second},
		{"stays at max", 12, 900 * time.Second},
		{"negative treated as zero", -1, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BackoffDelay(tt.retryCount, base, max))
		})
	}
}
