package vision

import (
	"fmt"
	"strings"
)

const locateSystem = `You locate UI elements in web page screenshots for a test automation engine.
Answer with a single JSON object and nothing else. Coordinates are CSS pixels measured
from the top-left corner of the screenshot; x and y are the centre of the element.`

const compareSystem = `You compare two screenshots of the same web page for a test automation engine.
The first image is the approved baseline, the second is the current state.
Answer with a single JSON object and nothing else.`

func locatePrompt(description, hint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Find this element: %q\n", description)
	if hint != "" {
		fmt.Fprintf(&b, "Context: %s\n", hint)
	}
	b.WriteString(`Return:
{
  "found": true|false,
  "confidence": 0.0-1.0,
  "x": 0, "y": 0, "width": 0, "height": 0,
  "reasoning": "short explanation",
  "suggestedSelector": "CSS selector if one is evident from the visible text or labels, else omit"
}
If the element is not clearly visible, answer {"found": false, "confidence": 0}.`)
	return b.String()
}

func verifyPrompt(description, expectedState string) string {
	return fmt.Sprintf(`Look at this element: %q
Expected state: %q
Return:
{
  "matches": true|false,
  "actualState": "the state you actually observe",
  "confidence": 0.0-1.0
}`, description, expectedState)
}

func findAllPrompt(category string) string {
	return fmt.Sprintf(`List every visible element in this category: %q
Return:
{
  "elements": [
    {"description": "what it is", "x": 0, "y": 0, "width": 0, "height": 0,
     "confidence": 0.0-1.0, "suggestedSelector": "optional CSS selector"}
  ]
}
Return {"elements": []} if there are none.`, category)
}

const comparePrompt = `Identify differences that matter to browser automation.
Breaking changes move, rename, remove or hide interactive elements; cosmetic changes do not.
Return:
{
  "similarity": 0.0-1.0,
  "automationImpact": "none|low|medium|high|critical",
  "breakingChanges": ["..."],
  "nonBreakingChanges": ["..."],
  "summary": "one sentence"
}`
