package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ParseConfidence("high"))
	assert.Equal(t, ConfidenceHigh, ParseConfidence(" HIGH "))
	assert.Equal(t, ConfidenceMedium, ParseConfidence("medium"))
	assert.Equal(t, ConfidenceMedium, ParseConfidence("med"))
	assert.Equal(t, ConfidenceLow, ParseConfidence("low"))

	// A malformed confidence must never clear an admission threshold.
	assert.Equal(t, ConfidenceLow, ParseConfidence("very confident"))
	assert.Equal(t, ConfidenceLow, ParseConfidence(""))
}

func TestConfidenceAtLeast(t *testing.T) {
	assert.True(t, ConfidenceHigh.AtLeast(ConfidenceHigh))
	assert.True(t, ConfidenceHigh.AtLeast(ConfidenceLow))
	assert.True(t, ConfidenceMedium.AtLeast(ConfidenceLow))
	assert.False(t, ConfidenceMedium.AtLeast(ConfidenceHigh))
	assert.False(t, ConfidenceLow.AtLeast(ConfidenceMedium))
}
