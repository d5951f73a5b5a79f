package sandbox

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeReader serves artifact content from a map.
type fakeReader map[string]string

func (f fakeReader) ReadArtifact(name string) (string, error) {
	content, ok := f[name]
	if !ok {
		return "", fmt.Errorf("artifact %s not found", name)
	}
	return content, nil
}

const handlerOriginal = `def handle(request):
    return process(request)`

const handlerDiff = "--- a/organism/handler.py\n" +
	"+++ b/organism/handler.py\n" +
	"@@ -1,2 +1,3 @@\n" +
	" def handle(request):\n" +
	"+    validate(request)\n" +
	"     return process(request)\n"

func testReader() fakeReader {
	return fakeReader{"organism/handler.py": handlerOriginal}
}

func testProposal(diffText string, targets ...string) *proposal.Proposal {
	return proposal.NewProposal("improve handler", targets, diffText)
}

// =============================================================================
// VALIDATE TESTS
// =============================================================================

// Test that a clean proposal passes all five checks.
func TestValidatePasses(t *testing.T) {
	v := NewValidator(testReader())
	p := testProposal(handlerDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 5, res.ChecksPassed)
	assert.Equal(t, 5, res.ChecksTotal)
	assert.Empty(t, res.Errors)
}

// Test that an unparseable diff fails the first check and skips the rest.
func TestValidateUnparseableDiff(t *testing.T) {
	v := NewValidator(testReader())
	p := testProposal("not a diff", "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 0, res.ChecksPassed)
	assert.Equal(t, 5, res.ChecksTotal)
	require.NotEmpty(t, res.Errors)
}

// Test that an empty diff is rejected.
func TestValidateEmptyDiff(t *testing.T) {
	v := NewValidator(testReader())
	p := testProposal("", "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 0, res.ChecksPassed)
}

// Test that a diff larger than the line ceiling is rejected.
func TestValidateDiffTooLarge(t *testing.T) {
	v := NewValidator(testReader(), WithMaxDiffLines(0))
	p := testProposal(handlerDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 0, res.ChecksPassed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "ceiling")
}

// Test that touching an undeclared artifact fails the target check.
func TestValidateUndeclaredTarget(t *testing.T) {
	v := NewValidator(testReader())
	p := testProposal(handlerDiff, "organism/other.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.ChecksPassed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "undeclared artifact organism/handler.py")
}

// Test that a diff which no longer matches the artifact fails the apply check.
func TestValidateStaleDiff(t *testing.T) {
	reader := fakeReader{"organism/handler.py": "def handle(request):\n    return reject(request)"}
	v := NewValidator(reader)
	p := testProposal(handlerDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 2, res.ChecksPassed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "mismatch")
}

// Test that a missing artifact fails the apply check for modification diffs.
func TestValidateMissingArtifact(t *testing.T) {
	v := NewValidator(fakeReader{})
	p := testProposal(handlerDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 2, res.ChecksPassed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "read artifact")
}

// Test that a new-file diff needs no existing artifact.
func TestValidateNewFile(t *testing.T) {
	newFileDiff := "--- /dev/null\n" +
		"+++ b/organism/helper.py\n" +
		"@@ -0,0 +1,2 @@\n" +
		"+def assist(request):\n" +
		"+    return request\n"

	v := NewValidator(fakeReader{})
	p := testProposal(newFileDiff, "organism/helper.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Passed, "errors: %v", res.Errors)
	assert.Equal(t, 5, res.ChecksPassed)
}

// Test that unbalanced delimiters in the patched result fail the structure check.
func TestValidateStructuralDamage(t *testing.T) {
	badDiff := "--- a/organism/handler.py\n" +
		"+++ b/organism/handler.py\n" +
		"@@ -1,2 +1,3 @@\n" +
		" def handle(request):\n" +
		"+    validate(request\n" +
		"     return process(request)\n"

	v := NewValidator(testReader())
	p := testProposal(badDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 4, res.ChecksPassed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "unclosed")
}

// Test that forbidden patterns in added lines are rejected.
func TestValidateForbiddenPattern(t *testing.T) {
	evilDiff := "--- a/organism/handler.py\n" +
		"+++ b/organism/handler.py\n" +
		"@@ -1,2 +1,3 @@\n" +
		" def handle(request):\n" +
		"+    os.system(request.cmd)\n" +
		"     return process(request)\n"

	v := NewValidator(testReader())
	p := testProposal(evilDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 4, res.ChecksPassed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "forbidden pattern")
	assert.Contains(t, res.Errors[0], "os.system")
}

// Test that forbidden pattern matching is case-insensitive.
func TestValidateForbiddenPatternCaseInsensitive(t *testing.T) {
	evilDiff := "--- a/organism/handler.py\n" +
		"+++ b/organism/handler.py\n" +
		"@@ -1,2 +1,3 @@\n" +
		" def handle(request):\n" +
		"+    OS.SYSTEM(request.cmd)\n" +
		"     return process(request)\n"

	v := NewValidator(testReader())
	p := testProposal(evilDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

// Test that forbidden patterns in context or removed lines are ignored.
func TestValidateForbiddenPatternOnlyAddedLines(t *testing.T) {
	original := "def handle(request):\n    os.system(request.cmd)"
	cleanupDiff := "--- a/organism/handler.py\n" +
		"+++ b/organism/handler.py\n" +
		"@@ -1,2 +1,2 @@\n" +
		" def handle(request):\n" +
		"-    os.system(request.cmd)\n" +
		"+    return process(request)\n"

	v := NewValidator(fakeReader{"organism/handler.py": original})
	p := testProposal(cleanupDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Passed, "errors: %v", res.Errors)
}

// Test that a custom pattern list replaces the defaults.
func TestValidateCustomForbiddenPatterns(t *testing.T) {
	v := NewValidator(testReader(), WithForbiddenPatterns([]string{"validate("}))
	p := testProposal(handlerDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 4, res.ChecksPassed)
}

// Test that a patched artifact above the size ceiling fails structure checks.
func TestValidateArtifactSizeCeiling(t *testing.T) {
	v := NewValidator(testReader(), WithMaxArtifactBytes(10))
	p := testProposal(handlerDiff, "organism/handler.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 4, res.ChecksPassed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "exceeds ceiling")
}

// Test that cancellation surfaces as an error, not a failed result.
func TestValidateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewValidator(testReader())
	p := testProposal(handlerDiff, "organism/handler.py")

	res, err := v.Validate(ctx, p)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

// Test that multi-file proposals validate every file.
func TestValidateMultiFile(t *testing.T) {
	reader := fakeReader{
		"organism/handler.py": handlerOriginal,
		"organism/router.py":  "def route(request):\n    return handle(request)",
	}
	multiDiff := handlerDiff +
		"--- a/organism/router.py\n" +
		"+++ b/organism/router.py\n" +
		"@@ -1,2 +1,2 @@\n" +
		" def route(request):\n" +
		"-    return handle(request)\n" +
		"+    return handle(normalize(request))\n"

	v := NewValidator(reader)
	p := testProposal(multiDiff, "organism/handler.py", "organism/router.py")

	res, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Passed, "errors: %v", res.Errors)
}

// =============================================================================
// STRUCTURAL CHECK TESTS
// =============================================================================

// Test balanced delimiter acceptance and rejection.
func TestCheckBalanced(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"balanced code", "func f() { g(a[0]) }", false},
		{"unclosed brace", "func f() {", true},
		{"stray closer", "func f() }", true},
		{"mismatched pair", "f(a[)]", true},
		{"brackets in string", `s := "([{"`, false},
		{"brackets in line comment", "x := 1 // ([{\ny := 2", false},
		{"brackets in python comment", "x = 1 # ([{\ny = 2", false},
		{"brackets in backtick string", "s := `({[`", false},
		{"escaped quote", `s := "a\"b("` + "\nf()", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBalanced(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// Test structural content checks.
func TestCheckContent(t *testing.T) {
	errs := CheckContent("a.py", "def f():\n    pass", 1024)
	assert.Empty(t, errs)

	errs = CheckContent("a.py", "   \n  ", 1024)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "empty after patch")

	errs = CheckContent("a.py", "data\x00data", 1024)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "binary")

	errs = CheckContent("a.py", strings.Repeat("x", 64), 10)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "exceeds ceiling")
}
