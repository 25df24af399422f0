package fabricate

import (
	"fmt"
	"strings"

	"github.com/ekkoscope/sherlock/engine/domain"
)

// Prompt renders the single generation prompt for kind.
func Prompt(kind Kind, biz domain.Business, m domain.Mission) string {
	var b strings.Builder
	writeIdentity(&b, biz, m)

	switch kind {
	case KindSchema:
		fmt.Fprintf(&b, `Generate one complete JSON-LD document (schema.org) describing %s.
Use the most specific schema.org type for a %s. Include name, url, telephone,
areaServed and description, and fold the topic "%s" into the description,
knowsAbout and a hasOfferCatalog entry.
Return ONLY the JSON document, no markdown.`,
			biz.Name, orDefault(biz.BusinessType, "local business"), m.MissingTopic)

	case KindLanding:
		fmt.Fprintf(&b, `Write one complete, self-contained HTML5 landing page for %s targeting the topic "%s".
Requirements:
- a single <h1> naming the topic and the business, with <h2>/<h3> section headings
- body copy that answers the questions customers ask about this topic, using the example phrases naturally
- an FAQ section with at least 5 questions and answers
- a clear call to action with the phone number
- a <script type="application/ld+json"> block with LocalBusiness and FAQPage markup
- inline CSS only, no external assets
Return ONLY the HTML document, no markdown.`,
			biz.Name, m.MissingTopic)

	case KindFAQ:
		fmt.Fprintf(&b, `Write 8 frequently asked questions customers ask about "%s" and answer each as %s would.
Answers are 2-4 sentences, specific to the business and its service area.
Return ONLY a JSON array: [{"question": "...", "answer": "..."}]`,
			m.MissingTopic, biz.Name)

	default:
		fmt.Fprintf(&b, `Write a 400-600 word content section for %s's website about "%s".
Use Markdown headings, cover what customers need to know, and end with a call to action.
Return ONLY the Markdown.`,
			biz.Name, m.MissingTopic)
	}
	return b.String()
}

func writeIdentity(b *strings.Builder, biz domain.Business, m domain.Mission) {
	b.WriteString("BUSINESS:\n")
	fmt.Fprintf(b, "- Name: %s\n", biz.Name)
	fmt.Fprintf(b, "- Website: %s\n", orDefault(biz.PrimaryDomain, "n/a"))
	fmt.Fprintf(b, "- Type: %s\n", orDefault(biz.BusinessType, "n/a"))
	if biz.Description != "" {
		fmt.Fprintf(b, "- Description: %s\n", biz.Description)
	}
	if biz.Phone != "" {
		fmt.Fprintf(b, "- Phone: %s\n", biz.Phone)
	}
	if len(biz.Regions) > 0 {
		fmt.Fprintf(b, "- Service area: %s\n", strings.Join(biz.Regions, ", "))
	}
	if len(biz.Categories) > 0 {
		fmt.Fprintf(b, "- Categories: %s\n", strings.Join(biz.Categories, ", "))
	}

	b.WriteString("\nGAP TO CLOSE:\n")
	fmt.Fprintf(b, "- Missing topic: %s\n", m.MissingTopic)
	if len(m.TopicContext) > 0 {
		fmt.Fprintf(b, "- Phrases competitors use: %s\n", strings.Join(m.TopicContext, "; "))
	}
	if len(m.CompetitorCoverage) > 0 {
		fmt.Fprintf(b, "- Covered by: %s\n", strings.Join(m.CompetitorCoverage, ", "))
	}
	if m.RecommendedAction != "" {
		fmt.Fprintf(b, "- Recommended action: %s\n", m.RecommendedAction)
	}
	if m.TargetURLSlug != "" {
		fmt.Fprintf(b, "- Target URL: %s\n", m.TargetURLSlug)
	}
	b.WriteString("\n")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
