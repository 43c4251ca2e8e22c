package gateway

import (
	"reflect"
	"testing"
)

const soulDoc = `# Atlas

A research agent that digs through sources and cites them.

More prose that is not the description.

## What You're Good At

- Web Research!
- Summarizing long documents
* Fact-checking (with sources)

## Something Else

- not a capability
`

func TestParseSoulDescription(t *testing.T) {
	soul := ParseSoul(soulDoc)
	want := "A research agent that digs through sources and cites them."
	if soul.Description != want {
		t.Errorf("description: %q", soul.Description)
	}
}

func TestParseSoulCapabilities(t *testing.T) {
	soul := ParseSoul(soulDoc)
	want := []string{"web-research", "summarizing-long-documents", "fact-checking-with-sources"}
	if !reflect.DeepEqual(soul.Capabilities, want) {
		t.Errorf("capabilities: %v", soul.Capabilities)
	}
}

func TestParseSoulRolePromptVerbatim(t *testing.T) {
	soul := ParseSoul(soulDoc)
	if soul.RolePrompt != soulDoc {
		t.Error("role prompt must be the whole file verbatim")
	}
}

func TestParseSoulDeterministic(t *testing.T) {
	a := ParseSoul(soulDoc)
	b := ParseSoul(soulDoc)
	if !reflect.DeepEqual(a, b) {
		t.Error("parse is not deterministic")
	}
}

func TestParseSoulCapHeadingCaseInsensitive(t *testing.T) {
	doc := "# X\n\ndesc here\n\n## WHAT YOU'RE GOOD AT\n\n- coding\n"
	soul := ParseSoul(doc)
	if len(soul.Capabilities) != 1 || soul.Capabilities[0] != "coding" {
		t.Errorf("capabilities: %v", soul.Capabilities)
	}
}

func TestParseSoulEmptyDocument(t *testing.T) {
	soul := ParseSoul("")
	if soul.Description != "" || len(soul.Capabilities) != 0 {
		t.Errorf("empty document yielded content: %+v", soul)
	}
}

func TestParseSoulDescriptionStopsAtHeading(t *testing.T) {
	doc := "# X\n\n## Immediately a heading\n\nprose after"
	soul := ParseSoul(doc)
	if soul.Description != "" {
		t.Errorf("description crossed a heading: %q", soul.Description)
	}
}
