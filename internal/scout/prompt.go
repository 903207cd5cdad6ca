package scout

import (
	"fmt"
	"strings"
)

// scoutPrompt instructs the model to research a restaurant's celiac safety
// and answer with a single JSON object. The response contract here must stay
// in sync with what the extractor and the UI expect.
const scoutPrompt = `You are a celiac disease dining safety expert. Research the restaurant below and assess how safely someone with celiac disease can eat there.

Restaurant: %s
%s
Use web search to find: the restaurant's menu and any dedicated gluten-free menu, reviews from celiac diners (Find Me Gluten Free, Reddit r/Celiac, Google reviews mentioning "celiac" or "gluten"), and any mention of dedicated fryers, separate prep areas, or staff training.

Respond with this exact JSON format:
{
  "safety_score": <number 0-10, or null if there is not enough information>,
  "verdict": "DEDICATED_GF" or "CELIAC_FRIENDLY" or "PROCEED_WITH_CAUTION" or "HIGH_RISK" or "UNKNOWN",
  "confidence": "HIGH" or "MEDIUM" or "LOW",
  "summary": "Two or three sentence plain-English assessment",
  "gf_options": ["notable gluten-free menu items or sections found"],
  "cross_contamination_risks": ["shared fryers, open kitchens, or other risks found"],
  "safe_practices": ["dedicated fryers, separate prep, staff training, certifications"],
  "celiac_reviews": ["short paraphrases of what celiac diners reported"],
  "alternatives": ["nearby safer options, empty if not applicable"]
}

Scoring guide: 9-10 dedicated gluten-free facility; 7-8 strong protocols and positive celiac reviews; 4-6 GF options but real cross-contamination risk; 1-3 little accommodation; 0 avoid entirely. When evidence conflicts, score low and say why in the summary.

Return ONLY valid JSON, no other text.`

// BuildPrompt renders the scout prompt for a lookup request.
func BuildPrompt(req LookupRequest) string {
	var context strings.Builder
	if req.Location != "" {
		fmt.Fprintf(&context, "Location: %s\n", req.Location)
	}
	if req.MenuURL != "" {
		fmt.Fprintf(&context, "The diner provided this menu URL, treat it as the primary source: %s\n", req.MenuURL)
	}
	return fmt.Sprintf(scoutPrompt, req.Name, context.String())
}
