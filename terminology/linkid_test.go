package terminology

import (
	"testing"

	"github.com/evercare/fhirpath/model"
)

func questionnaireFixture() model.ResourceNode {
	data := map[string]any{
		"resourceType": "Questionnaire",
		"item": []any{
			map[string]any{
				"linkId": "q1",
				"item": []any{
					map[string]any{"linkId": "q1.1"},
				},
			},
			map[string]any{"linkId": "q2"},
		},
	}
	return model.NewResourceNode(&model.Schema{}, data)
}

func TestBuildLinkIDIndexFindsNestedItems(t *testing.T) {
	questionnaire := questionnaireFixture()
	index := buildLinkIDIndex(questionnaire)

	for _, linkID := range []string{"q1", "q1.1", "q2"} {
		if _, ok := index[linkID]; !ok {
			t.Errorf("expected index to contain linkId %q", linkID)
		}
	}
	if len(index) != 3 {
		t.Errorf("expected 3 indexed items, got %d", len(index))
	}
}

func TestLinkIDIndexForCachesByQuestionnaireIdentity(t *testing.T) {
	questionnaire := questionnaireFixture()

	first := linkIDIndexFor(&questionnaire)
	second := linkIDIndexFor(&questionnaire)

	if len(first) != len(second) {
		t.Fatalf("expected the same index contents on repeated lookup")
	}
	for linkID := range first {
		if _, ok := second[linkID]; !ok {
			t.Errorf("expected cached index to still contain linkId %q", linkID)
		}
	}
}

func TestEnclosingLinkIDWalksUpToNearestItem(t *testing.T) {
	questionnaire := questionnaireFixture()
	items := questionnaire.Children("item")
	if len(items) == 0 {
		t.Fatalf("expected at least one top-level item")
	}
	item, ok := items[0].(model.ResourceNode)
	if !ok {
		t.Fatalf("expected a ResourceNode, got %T", items[0])
	}

	// linkId itself is a child of the item; walking up from it should
	// find the item's own linkId, "q1".
	linkIDChildren := item.Children("linkId")
	if len(linkIDChildren) == 0 {
		t.Fatalf("expected item to carry a linkId")
	}
	linkIDNode, ok := linkIDChildren[0].(model.ResourceNode)
	if !ok {
		t.Fatalf("expected a ResourceNode, got %T", linkIDChildren[0])
	}

	got := enclosingLinkID(linkIDNode)
	if got != "q1" {
		t.Errorf("enclosingLinkID() = %q, want %q", got, "q1")
	}
}
