package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspace-os/contractguard/pkg/contracts"
)

func TestLint_ShippedSchemasAreClean(t *testing.T) {
	r := NewRegistry(protocolsDir)
	for _, typ := range contracts.AllTypes() {
		doc, err := r.Load(typ)
		require.NoError(t, err)
		assert.Empty(t, Lint(doc), typ)
	}
}

func TestLint_ReportsBrokenRefsAndPatterns(t *testing.T) {
	doc := mustDoc(t, `{
		"type": "object",
		"properties": {
			"a": {"$ref": "#/definitions/Missing"},
			"b": {"type": "string", "pattern": "(a)\\1"},
			"c": {"$ref": "other.json#/x"}
		},
		"definitions": {
			"Ok": {"type": "string"}
		}
	}`)

	got := Lint(doc)
	var msgs []string
	for _, v := range got {
		msgs = append(msgs, v.String())
	}
	joined := strings.Join(msgs, "\n")

	assert.Contains(t, joined, "[Root.a] Reference error: unresolved reference: #/definitions/Missing")
	assert.Contains(t, joined, "[Root.b] Invalid pattern:")
	assert.Contains(t, joined, "[Root.c] Reference error: external $ref not supported (sovereignty): other.json#/x")
}

func TestLint_MetaSchemaViolation(t *testing.T) {
	doc := mustDoc(t, `{"type": "object", "minItems": "three"}`)
	got := Lint(doc)
	require.NotEmpty(t, got)
	assert.True(t, strings.HasPrefix(got[0].Message, "Schema does not conform to draft-07"), got[0].Message)
}
