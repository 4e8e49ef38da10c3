package dto

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := CreateEscrowRequest{
		FreelancerID: "  7f8e2c1a-4b3d-4e5f-8a9b-0c1d2e3f4a5b  ",
		Terms:        "  Logo design, two revisions ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "7f8e2c1a-4b3d-4e5f-8a9b-0c1d2e3f4a5b", req.FreelancerID)
	assert.Equal(t, "Logo design, two revisions", req.Terms)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := OpenDisputeRequest{Reason: "delivered <script>alert('x')</script> instead"}
	SanitizeStruct(&req)

	assert.Contains(t, req.Reason, "&lt;script&gt;")
	assert.NotContains(t, req.Reason, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	type withPtr struct {
		Note *string
	}
	note := "  late delivery  "
	req := withPtr{Note: &note}
	SanitizeStruct(&req)

	assert.Equal(t, "late delivery", *req.Note)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	type withPtr struct {
		Note *string
	}
	req := withPtr{}
	SanitizeStruct(&req)
	assert.Nil(t, req.Note)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID_Valid(t *testing.T) {
	cases := []string{
		"order-001",
		"KEY_002",
		"a.b.c",
		"simple123",
		"ABC-def_GHI.123",
	}
	for _, tc := range cases {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestSafeID_Invalid(t *testing.T) {
	cases := []string{
		"key 001",     // space
		"key<001>",    // angle brackets
		"key;DROP",    // semicolon
		"",            // empty
		"hello world", // space
		"key\n001",    // newline
	}
	for _, tc := range cases {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestIdempotencyHeader_Validation(t *testing.T) {
	assert.NoError(t, binding.Validator.ValidateStruct(&IdempotencyHeader{}))
	assert.NoError(t, binding.Validator.ValidateStruct(&IdempotencyHeader{Key: "order-42"}))
	assert.Error(t, binding.Validator.ValidateStruct(&IdempotencyHeader{Key: "order 42"}))
}

func TestResolveDisputeRequest_Validation(t *testing.T) {
	ok := ResolveDisputeRequest{Decision: "refund", ResolutionNote: "work never delivered"}
	assert.NoError(t, binding.Validator.ValidateStruct(&ok))

	bad := ResolveDisputeRequest{Decision: "split", ResolutionNote: "half each"}
	assert.Error(t, binding.Validator.ValidateStruct(&bad))
}
