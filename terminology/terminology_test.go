package terminology

import (
	"testing"

	"github.com/evercare/fhirpath/model"
)

func codingFixture(t *testing.T, extensionURL string, value float64) model.ResourceNode {
	t.Helper()
	data := map[string]any{
		"system": "http://example.org/codes",
		"code":   "A",
		"extension": []any{
			map[string]any{
				"url":          extensionURL,
				"valueDecimal": value,
			},
		},
	}
	return model.NewResourceNode(&model.Schema{}, data)
}

func TestCodingOfExtractsSystemAndCode(t *testing.T) {
	node := codingFixture(t, "http://example.org/score", 1)
	system, code, err := codingOf(node)
	if err != nil {
		t.Fatalf("codingOf: %v", err)
	}
	if system != "http://example.org/codes" || code != "A" {
		t.Errorf("codingOf() = (%q, %q), want (%q, %q)", system, code, "http://example.org/codes", "A")
	}
}

func TestScoreFromExtensionFindsInlineScore(t *testing.T) {
	const extensionURI = "http://hl7.org/fhir/StructureDefinition/itemWeight"
	node := codingFixture(t, extensionURI, 3)
	// scoreFromExtension's second lookup path reads "valueDecimal" off an
	// extension whose own url equals scoreConfig.PropertyURI exactly.
	config := &model.ScoreConfig{ExtensionURI: []string{extensionURI}, PropertyURI: extensionURI}

	score, ok := scoreFromExtension(node, config, "weight")
	if !ok {
		t.Fatalf("expected scoreFromExtension to find the inline score")
	}
	if score.String() != "3" {
		t.Errorf("score = %s, want 3", score.String())
	}
}

func TestScoreFromExtensionMissing(t *testing.T) {
	const extensionURI = "http://hl7.org/fhir/StructureDefinition/itemWeight"
	node := codingFixture(t, "http://example.org/unrelated", 3)
	config := &model.ScoreConfig{ExtensionURI: []string{extensionURI}, PropertyURI: extensionURI}

	if _, ok := scoreFromExtension(node, config, "weight"); ok {
		t.Errorf("expected no score when the extension URI doesn't match")
	}
}

func TestContainsString(t *testing.T) {
	list := []string{"a", "b", "c"}
	if !containsString(list, "b") {
		t.Errorf("expected list to contain %q", "b")
	}
	if containsString(list, "z") {
		t.Errorf("did not expect list to contain %q", "z")
	}
}
