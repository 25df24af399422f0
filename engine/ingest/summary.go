package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/fetch"
	"github.com/ekkoscope/sherlock/pkg/fn"
)

const (
	summaryHeadings = 10
	summaryTopics   = 15
	summaryContent  = 4000
	summaryMax      = 8000
)

// Summary builds the compact text that gets embedded for a page.
func Summary(page fetch.Page, topics []domain.Topic) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(page.Title)
	b.WriteString("\nDescription: ")
	b.WriteString(page.MetaDescription)
	b.WriteString("\nHeadings: ")
	b.WriteString(strings.Join(fn.Take(page.Headings, summaryHeadings), " | "))
	b.WriteString("\nTopics: ")
	b.WriteString(strings.Join(fn.Take(domain.TopicNames(topics), summaryTopics), ", "))
	b.WriteString("\nContent: ")
	b.WriteString(head(page.Text, summaryContent))
	return head(b.String(), summaryMax)
}

func head(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
