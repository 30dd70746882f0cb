package terminology

import (
	"sync"
	"weak"

	"github.com/evercare/fhirpath"
	"github.com/evercare/fhirpath/model"
)

// linkIDIndex maps a Questionnaire's item linkIds to the item node that
// declares them, so weight()/ordinal() can locate the answerOption list
// backing a coded answer without re-walking the whole questionnaire on
// every call.
type linkIDIndex map[string]model.ResourceNode

var (
	linkIDIndexesMu sync.Mutex
	// linkIDIndexes is weakly keyed by the questionnaire ResourceNode the
	// caller passed in: once nothing else in the program still references
	// that node, its index becomes eligible for collection on the next
	// lookup that notices the weak pointer is gone, instead of pinning
	// every questionnaire an evaluation has ever touched for the life of
	// the process (§5 "Questionnaire linkId index: weakly keyed by
	// questionnaire document, built on first lookup, reused for
	// subsequent lookups on the same document").
	linkIDIndexes = map[weak.Pointer[model.ResourceNode]]linkIDIndex{}
)

// linkIDIndexFor returns the (lazily built, cached) linkId index for
// questionnaire, identified by the pointer's own identity.
func linkIDIndexFor(questionnaire *model.ResourceNode) linkIDIndex {
	ptr := weak.Make(questionnaire)

	linkIDIndexesMu.Lock()
	if index, ok := linkIDIndexes[ptr]; ok {
		linkIDIndexesMu.Unlock()
		return index
	}
	linkIDIndexesMu.Unlock()

	index := buildLinkIDIndex(*questionnaire)

	linkIDIndexesMu.Lock()
	defer linkIDIndexesMu.Unlock()
	pruneCollectedIndexes()
	linkIDIndexes[ptr] = index
	return index
}

// pruneCollectedIndexes drops entries whose questionnaire has already
// been collected. Called opportunistically alongside inserts rather than
// on a timer, since this cache only grows as fast as distinct
// questionnaires are evaluated.
func pruneCollectedIndexes() {
	for ptr := range linkIDIndexes {
		if ptr.Value() == nil {
			delete(linkIDIndexes, ptr)
		}
	}
}

func buildLinkIDIndex(questionnaire model.ResourceNode) linkIDIndex {
	index := linkIDIndex{}
	var walk func(node model.ResourceNode)
	walk = func(node model.ResourceNode) {
		if linkID := firstString(node.Children("linkId")); linkID != "" {
			index[linkID] = node
		}
		for _, child := range node.Children("item") {
			if item, ok := child.(model.ResourceNode); ok {
				walk(item)
			}
		}
	}
	for _, child := range questionnaire.Children("item") {
		if item, ok := child.(model.ResourceNode); ok {
			walk(item)
		}
	}
	return index
}

func firstString(c fhirpath.Collection) string {
	if len(c) == 0 {
		return ""
	}
	s, ok, err := c[0].ToString(false)
	if err != nil || !ok {
		return ""
	}
	return string(s)
}
