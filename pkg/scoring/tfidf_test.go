package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxTFIDFSimilarity(t *testing.T) {
	question := "Why is the creamy texture important to you?"

	sim, idx := maxTFIDFSimilarity(question, []string{question})
	assert.InDelta(t, 1.0, sim, 0.0001)
	assert.Equal(t, 0, idx)

	// Minor rephrasing still scores high.
	sim, _ = maxTFIDFSimilarity(question, []string{"Why is the creamy texture important to you"})
	assert.Greater(t, sim, 0.9)

	// Unrelated questions score low.
	sim, _ = maxTFIDFSimilarity(question, []string{"How often do you go grocery shopping?"})
	assert.Less(t, sim, 0.5)

	// The best match's index is reported.
	_, idx = maxTFIDFSimilarity(question, []string{
		"How often do you go grocery shopping?",
		"Why does the creamy texture matter to you?",
	})
	assert.Equal(t, 1, idx)
}

func TestMaxTFIDFSimilarityEmptyInputs(t *testing.T) {
	sim, idx := maxTFIDFSimilarity("anything", nil)
	assert.Equal(t, 0.0, sim)
	assert.Equal(t, -1, idx)

	sim, _ = maxTFIDFSimilarity("", []string{"Why is that important?"})
	assert.Equal(t, 0.0, sim)
}
