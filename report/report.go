// Package report turns a set of ingested documents into a survey: documents
// are summarized, a section plan is produced, sections are drafted in
// parallel and the pieces are assembled in plan order.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Document is one ingested source handed to the generator.
type Document struct {
	Title  string
	Source string
	Text   string
}

// Summary is the digest of one document. Placeholder summaries carry
// Failed=true and a RelevanceScore of 1.
type Summary struct {
	Title          string   `json:"title"`
	Abstract       string   `json:"abstract"`
	KeyPoints      []string `json:"key_points"`
	Methodology    string   `json:"methodology"`
	Limitations    string   `json:"limitations"`
	RelevanceScore int      `json:"relevance_score"`

	Source string `json:"-"`
	Failed bool   `json:"-"`
}

// Section is one entry of the table of contents.
type Section struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// DraftedSection is a section together with its generated body.
type DraftedSection struct {
	Section
	Content string
	Failed  bool
}

// Stats are the counts reported alongside the artifact.
type Stats struct {
	DocumentsAnalyzed int `json:"documents_analyzed" bson:"documents_analyzed"`
	SummariesFailed   int `json:"summaries_failed" bson:"summaries_failed"`
	SectionsProduced  int `json:"sections_produced" bson:"sections_produced"`
	SectionsFailed    int `json:"sections_failed" bson:"sections_failed"`
}

// Report is the generated survey.
type Report struct {
	ID           string
	Topic        string
	Title        string
	Abstract     string
	Summaries    []Summary
	Sections     []DraftedSection
	Bibliography []string
	Markdown     string
	Stats        Stats
	GeneratedAt  time.Time
}

// Render assembles the Markdown artifact: title and abstract, sections in
// plan order, the bibliography and a metadata footer.
func Render(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	if r.Abstract != "" {
		fmt.Fprintf(&b, "## Abstract\n\n%s\n\n", strings.TrimSpace(r.Abstract))
	}
	for _, s := range r.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Title, strings.TrimSpace(s.Content))
	}
	b.WriteString("## References\n\n")
	for i, title := range r.Bibliography {
		entry := title
		if i < len(r.Summaries) && r.Summaries[i].Source != "" {
			entry = fmt.Sprintf("%s. %s", title, r.Summaries[i].Source)
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, entry)
	}
	b.WriteString("\n---\n\n")
	fmt.Fprintf(&b, "Documents analyzed: %d (summaries failed: %d)\n\n", r.Stats.DocumentsAnalyzed, r.Stats.SummariesFailed)
	fmt.Fprintf(&b, "Sections produced: %d (failed: %d)\n\n", r.Stats.SectionsProduced, r.Stats.SectionsFailed)
	fmt.Fprintf(&b, "Generated at: %s\n", r.GeneratedAt.Format(time.RFC3339))
	return b.String()
}

// DefaultOutline is used when the model does not return a usable plan.
func DefaultOutline() []Section {
	return []Section{
		{Title: "Introduction", Description: "Motivation, scope and organisation of the survey.", Priority: 5},
		{Title: "Background and Foundations", Description: "Core concepts and definitions the reviewed work builds on.", Priority: 4},
		{Title: "Taxonomy of Approaches", Description: "Classification of the reviewed approaches.", Priority: 4},
		{Title: "Methods and Techniques", Description: "Detailed comparison of methods across the reviewed documents.", Priority: 5},
		{Title: "Evaluation and Benchmarks", Description: "Datasets, metrics and reported results.", Priority: 3},
		{Title: "Open Challenges and Future Directions", Description: "Limitations and research gaps.", Priority: 3},
		{Title: "Conclusion", Description: "Summary of findings.", Priority: 3},
	}
}

func placeholderSummary(source string, err error) Summary {
	return Summary{
		Title:          "could not extract title",
		Abstract:       fmt.Sprintf("Summary unavailable: %v", err),
		RelevanceScore: 1,
		Source:         source,
		Failed:         true,
	}
}

func normalizeSummary(s Summary) Summary {
	s.Title = strings.TrimSpace(s.Title)
	if s.Title == "" {
		s.Title = "could not extract title"
	}
	switch {
	case s.RelevanceScore == 0:
		s.RelevanceScore = 5
	case s.RelevanceScore < 1:
		s.RelevanceScore = 1
	case s.RelevanceScore > 10:
		s.RelevanceScore = 10
	}
	return s
}

func normalizeSections(sections []Section) []Section {
	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			continue
		}
		switch {
		case s.Priority == 0:
			s.Priority = 3
		case s.Priority < 1:
			s.Priority = 1
		case s.Priority > 5:
			s.Priority = 5
		}
		out = append(out, s)
	}
	return out
}

func failedSection(s Section, err error) DraftedSection {
	return DraftedSection{
		Section: s,
		Content: fmt.Sprintf("%s\n\nGeneration failed: %v", s.Title, err),
		Failed:  true,
	}
}

// digest renders summaries as the context block shared by the plan and
// draft prompts.
func digest(summaries []Summary) string {
	var b strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&b, "[%d] %s (relevance %d/10)\n", i+1, s.Title, s.RelevanceScore)
		if s.Abstract != "" {
			fmt.Fprintf(&b, "Abstract: %s\n", s.Abstract)
		}
		if len(s.KeyPoints) > 0 {
			fmt.Fprintf(&b, "Key points: %s\n", strings.Join(s.KeyPoints, "; "))
		}
		if s.Methodology != "" {
			fmt.Fprintf(&b, "Methodology: %s\n", s.Methodology)
		}
		if s.Limitations != "" {
			fmt.Fprintf(&b, "Limitations: %s\n", s.Limitations)
		}
		b.WriteString("\n")
	}
	return b.String()
}
