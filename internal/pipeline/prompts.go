package pipeline

import (
	"fmt"
	"strings"

	"github.com/personahq/persona-engine/internal/domain"
)

// personaSystemPrompt frames every generation call. The model must return
// bare JSON so the strict parse succeeds without extraction.
const personaSystemPrompt = `You are an expert market researcher who builds detailed, realistic customer personas from business information. Always respond with a single valid JSON object and nothing else: no markdown fences, no commentary.`

// personaSchemaHint describes the exact JSON shape expected back.
const personaSchemaHint = `Respond with a JSON object with exactly these keys:
{
  "demographics": {"name": "", "age": 0, "gender": "", "location": "", "occupation": "", "income_level": "", "education_level": "", "family_status": ""},
  "psychographics": {"values": [], "interests": [], "lifestyle": "", "personality_traits": [], "motivations": [], "frustrations": []},
  "behavioral_patterns": {"daily_routine": [], "shopping_habits": [], "decision_factors": [], "brand_loyalty": "", "research_methods": []},
  "digital_behavior": {"preferred_platforms": [], "device_usage": "", "online_activity": "", "content_preferences": []},
  "goals_and_pain_points": {"primary_goals": [], "pain_points": [], "challenges": [], "success_metrics": []},
  "product_relationship": {"use_cases": [], "purchase_barriers": [], "expected_benefits": [], "price_perception": ""},
  "marketing_strategy": {"preferred_channels": [], "messaging_tone": "", "key_messages": [], "content_ideas": [], "campaign_triggers": []},
  "quotes": []
}`

// buildBasePrompt interpolates the form data into the generation template.
func buildBasePrompt(form domain.PersonaFormData) string {
	var b strings.Builder

	b.WriteString("Create a detailed customer persona for the following business.\n\n")

	fmt.Fprintf(&b, "BUSINESS:\n- Name: %s\n- Industry: %s\n",
		form.BusinessInfo.BusinessName, form.BusinessInfo.Industry)
	writeIf(&b, "- Type: %s\n", form.BusinessInfo.BusinessType)
	writeIf(&b, "- Company size: %s\n", form.BusinessInfo.CompanySize)
	writeIf(&b, "- Description: %s\n", form.BusinessInfo.Description)

	fmt.Fprintf(&b, "\nTARGET AUDIENCE:\n- Age range: %s\n", form.TargetAudience.AgeRange)
	writeIf(&b, "- Gender: %s\n", form.TargetAudience.Gender)
	writeIf(&b, "- Location: %s\n", form.TargetAudience.Location)
	writeIf(&b, "- Income level: %s\n", form.TargetAudience.IncomeLevel)
	writeIf(&b, "- Education: %s\n", form.TargetAudience.EducationLevel)
	writeList(&b, "- Known interests: %s\n", form.TargetAudience.KnownInterests)

	fmt.Fprintf(&b, "\nPRODUCT:\n- Name: %s\n", form.ProductDetails.ProductName)
	writeIf(&b, "- Type: %s\n", form.ProductDetails.ProductType)
	writeIf(&b, "- Price range: %s\n", form.ProductDetails.PriceRange)
	writeList(&b, "- Key features: %s\n", form.ProductDetails.KeyFeatures)
	writeIf(&b, "- Value proposition: %s\n", form.ProductDetails.ValueProposition)
	writeList(&b, "- Competitors: %s\n", form.ProductDetails.Competitors)

	fmt.Fprintf(&b, "\nRESEARCH GOALS:\n- Primary: %s\n", form.ResearchGoals.PrimaryGoal)
	writeList(&b, "- Secondary: %s\n", form.ResearchGoals.SecondaryGoals)
	writeList(&b, "- Key questions: %s\n", form.ResearchGoals.KeyQuestions)
	writeIf(&b, "- Marketing focus: %s\n", form.ResearchGoals.MarketingFocus)

	b.WriteString("\nMake the persona specific and grounded in the audience details above. ")
	b.WriteString("Give the persona a realistic full name and a concrete age within the target range.\n\n")
	b.WriteString(personaSchemaHint)

	return b.String()
}

// buildEnhancementPrompt embeds the current persona and the taste signals
// and asks for a refined persona in the same shape.
func buildEnhancementPrompt(personaJSON, enrichmentJSON string) string {
	return fmt.Sprintf(`Below is a customer persona and real cultural affinity data for its audience segment from a taste-graph service.

CURRENT PERSONA:
%s

CULTURAL AFFINITY DATA:
%s

Refine the persona using the affinity data: fold relevant brands, interests, and platforms into psychographics, digital behavior, and marketing strategy. Keep every field that is already accurate. %s`,
		personaJSON, enrichmentJSON, personaSchemaHint)
}

// buildValidationPrompt asks the model to score the persona and optionally
// return an improved version.
func buildValidationPrompt(personaJSON string, form domain.PersonaFormData) string {
	return fmt.Sprintf(`Evaluate the customer persona below against the business context.

BUSINESS: %s (%s), product: %s
PRIMARY RESEARCH GOAL: %s

PERSONA:
%s

Respond with a single JSON object:
{
  "accuracy": <1-10>,
  "completeness": <1-10>,
  "actionability": <1-10>,
  "improved_persona": <optionally, the full corrected persona object in the original shape, or null>
}`,
		form.BusinessInfo.BusinessName, form.BusinessInfo.Industry,
		form.ProductDetails.ProductName, form.ResearchGoals.PrimaryGoal,
		personaJSON)
}

func writeIf(b *strings.Builder, format, value string) {
	if value != "" {
		fmt.Fprintf(b, format, value)
	}
}

func writeList(b *strings.Builder, format string, values []string) {
	if len(values) > 0 {
		fmt.Fprintf(b, format, strings.Join(values, ", "))
	}
}
