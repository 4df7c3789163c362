package diffparser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmarchant/patchvault/internal/domain/model"
)

func TestCountLines_InsertDeleteReplace(t *testing.T) {
	raw := []byte("--- a/foo.txt\tRev 1\n+++ b/foo.txt\tRev 2\n@@ -1,1 +1,2 @@\n-old\n+new\n+line2\n")

	counts := CountLines(raw, false)

	assert.Equal(t, 2, counts.Inserts)
	assert.Equal(t, 1, counts.Deletes)
	assert.Equal(t, 0, counts.Equals)
	// A delete directly followed by an insert counts as replacement.
	assert.Equal(t, 1, counts.Replaces)
	assert.Equal(t, 3, counts.Total())
}

func TestCountLines_HeaderLinesExcluded(t *testing.T) {
	raw := []byte("--- a/foo.txt\tRev 1\n+++ b/foo.txt\tRev 2\n@@ -1,2 +1,2 @@\n context\n-gone\n context2\n")

	counts := CountLines(raw, false)

	assert.Equal(t, 0, counts.Inserts)
	assert.Equal(t, 1, counts.Deletes)
	assert.Equal(t, 2, counts.Equals)
	assert.Equal(t, 0, counts.Replaces)
}

func TestCountLines_NoAdjacentChangeMeansNoReplace(t *testing.T) {
	raw := []byte("@@ -1,3 +1,3 @@\n-gone\n keep\n+added\n")

	counts := CountLines(raw, false)

	assert.Equal(t, 1, counts.Inserts)
	assert.Equal(t, 1, counts.Deletes)
	assert.Equal(t, 1, counts.Equals)
	assert.Equal(t, 0, counts.Replaces)
}

func TestCountLines_InsertThenDeleteIsAdjacent(t *testing.T) {
	raw := []byte("@@ -1,2 +1,2 @@\n+added\n-gone\n")

	counts := CountLines(raw, false)

	assert.Equal(t, 1, counts.Replaces)
}

func TestCountLines_Binary(t *testing.T) {
	assert.Equal(t, model.LineCounts{}, CountLines([]byte("+x\n-y\n"), true))
}

func TestCountLines_Empty(t *testing.T) {
	assert.Equal(t, model.LineCounts{}, CountLines(nil, false))
}
