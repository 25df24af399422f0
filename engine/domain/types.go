// Package domain defines the core types, error taxonomy, and validation for
// the semantic gap engine. It acts as the validation gate at engine entry points.
package domain

import "time"

// ContentType classifies the role of a scanned page.
type ContentType string

const (
	ContentClientSite     ContentType = "client_site"
	ContentCompetitorSite ContentType = "competitor_site"
	ContentMarketReview   ContentType = "market_review"
)

// ValidContentTypes is the set of recognised content types.
var ValidContentTypes = map[ContentType]bool{
	ContentClientSite:     true,
	ContentCompetitorSite: true,
	ContentMarketReview:   true,
}

// ScanStatus is the lifecycle state of a ContentScan.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Topic is a named semantic concept extracted from one page.
type Topic struct {
	Name           string   `json:"topic"`
	Category       string   `json:"category"`
	Depth          int      `json:"depth"`
	ExamplePhrases []string `json:"example_phrases"`
}

// TopicNames returns the names of topics in order.
func TopicNames(topics []Topic) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = t.Name
	}
	return out
}

// ContentScan is one fetch-and-analyze event.
type ContentScan struct {
	ID            int64       `json:"id"`
	BusinessID    int64       `json:"business_id"`
	UserID        *int64      `json:"user_id,omitempty"`
	URL           string      `json:"url"`
	ContentType   ContentType `json:"content_type"`
	ExtractedText string      `json:"extracted_text"`
	RawHTML       string      `json:"-"`
	VectorID      string      `json:"vector_id,omitempty"`
	Topics        []Topic     `json:"topics"`
	Status        ScanStatus  `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
}

// Competitor is a tracked rival for a business.
type Competitor struct {
	ID               int64      `json:"id"`
	BusinessID       int64      `json:"business_id"`
	Name             string     `json:"name"`
	URL              string     `json:"url"`
	DiscoveredSource string     `json:"discovered_source"`
	IsPrimary        bool       `json:"is_primary"`
	Status           string     `json:"status"`
	LastScannedAt    *time.Time `json:"last_scanned_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Competitor discovery sources.
const (
	SourceManual   = "manual"
	SourceAnalysis = "analysis"
	SourceIngest   = "ingest"
)

// Business is the profile of the business owning engine data. The engine
// only reads it.
type Business struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	PrimaryDomain string    `json:"primary_domain"`
	BusinessType  string    `json:"business_type"`
	Description   string    `json:"description"`
	Phone         string    `json:"phone"`
	Regions       []string  `json:"regions"`
	Categories    []string  `json:"categories"`
	CreatedAt     time.Time `json:"created_at"`
}

// MissionType is the kind of remediation a mission calls for.
type MissionType string

const (
	MissionCreatePage       MissionType = "create_page"
	MissionContentExpansion MissionType = "content_expansion"
	MissionTrustBuilding    MissionType = "trust_building"
	MissionContentCreation  MissionType = "content_creation"
)

// Priority ranks missions and missing topics.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

// MissionStatus is the lifecycle state of a Mission.
type MissionStatus string

const (
	MissionPending    MissionStatus = "pending"
	MissionInProgress MissionStatus = "in_progress"
	MissionCompleted  MissionStatus = "completed"
)

// ValidMissionStatuses is the set of recognised mission statuses.
var ValidMissionStatuses = map[MissionStatus]bool{
	MissionPending:    true,
	MissionInProgress: true,
	MissionCompleted:  true,
}

// Mission is one actionable remediation unit.
type Mission struct {
	ID                 int64         `json:"id"`
	BusinessID         int64         `json:"business_id"`
	GapAnalysisID      string        `json:"gap_analysis_id"`
	MissionType        MissionType   `json:"mission_type"`
	Priority           Priority      `json:"priority"`
	Status             MissionStatus `json:"status"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	MissingTopic       string        `json:"missing_topic"`
	TopicContext       []string      `json:"topic_context"`
	CompetitorCoverage []string      `json:"competitor_coverage"`
	RecommendedAction  string        `json:"recommended_action"`
	EstimatedImpact    string        `json:"estimated_impact"`
	TargetURLSlug      string        `json:"target_url_slug"`
	CreatedAt          time.Time     `json:"created_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

// MissingTopic is a competitor topic the client never covers.
type MissingTopic struct {
	Topic              string   `json:"topic"`
	CompetitorCoverage int      `json:"competitor_coverage"`
	Category           string   `json:"category"`
	Depth              int      `json:"depth"`
	ExamplePhrases     []string `json:"example_phrases"`
	FoundAt            []string `json:"found_at"`
	Priority           Priority `json:"priority"`
}

// WeakTopic is a topic the client covers less often than competitors.
type WeakTopic struct {
	Topic              string `json:"topic"`
	YourCoverage       int    `json:"your_coverage"`
	CompetitorCoverage int    `json:"competitor_coverage"`
	Gap                int    `json:"gap"`
}

// CoverageComparison summarises the two topic sets.
type CoverageComparison struct {
	YourTopics          int `json:"your_topics"`
	CompetitorTopics    int `json:"competitor_topics"`
	Overlap             int `json:"overlap"`
	UniqueToCompetitors int `json:"unique_to_competitors"`
}

// GapAnalysisResult is computed on demand from completed scans.
type GapAnalysisResult struct {
	AnalysisID         string             `json:"analysis_id"`
	BusinessID         int64              `json:"business_id"`
	MissingTopics      []MissingTopic     `json:"missing_topics"`
	WeakTopics         []WeakTopic        `json:"weak_topics"`
	CoverageComparison CoverageComparison `json:"coverage_comparison"`
	GapScore           int                `json:"gap_score"`
}

// IngestRequest asks the engine to ingest one URL.
type IngestRequest struct {
	URL         string      `json:"url"`
	ContentType ContentType `json:"content_type"`
	BusinessID  int64       `json:"business_id"`
	UserID      *int64      `json:"user_id,omitempty"`
	// Source is recorded as discovered_source when a competitor row is
	// created. Defaults to SourceIngest.
	Source string `json:"source,omitempty"`
}

// IngestResult is the caller-facing outcome of one ingestion.
type IngestResult struct {
	Success  bool    `json:"success"`
	URL      string  `json:"url"`
	ScanID   int64   `json:"scan_id,omitempty"`
	VectorID string  `json:"vector_id,omitempty"`
	Topics   []Topic `json:"topics,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// BatchResult reports per-URL outcomes of a batch ingestion.
type BatchResult struct {
	Attempted int            `json:"attempted"`
	Succeeded int            `json:"succeeded"`
	Results   []IngestResult `json:"results"`
}

// Evidence is one retrieved knowledge-store match backing a consultation.
type Evidence struct {
	VectorID    string   `json:"vector_id"`
	Namespace   string   `json:"namespace"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	ContentType string   `json:"content_type"`
	Topics      []string `json:"topics"`
	Score       float32  `json:"score"`
}

// Consultation is the Strategist's answer.
type Consultation struct {
	Answer   string     `json:"answer"`
	Evidence []Evidence `json:"evidence"`
	Sources  []string   `json:"sources"`
	Grounded bool       `json:"grounded"`
}

// ArtifactFile is one generated deliverable.
type ArtifactFile struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Fabrication is the Fabricator's output for one mission.
type Fabrication struct {
	MissionID int64          `json:"mission_id"`
	Files     []ArtifactFile `json:"files"`
}

// AnalysisRun reports a full analysis or rescan.
type AnalysisRun struct {
	BusinessID           int64              `json:"business_id"`
	ClientIngested       bool               `json:"client_ingested"`
	CompetitorsAttempted int                `json:"competitors_attempted"`
	CompetitorsScanned   int                `json:"competitors_scanned"`
	Gap                  *GapAnalysisResult `json:"gap,omitempty"`
	Missions             []Mission          `json:"missions"`
	Note                 string             `json:"note,omitempty"`
}

// ClearReport counts what a reset removed.
type ClearReport struct {
	VectorsDeleted     int   `json:"vectors_deleted"`
	ScansDeleted       int64 `json:"scans_deleted"`
	MissionsDeleted    int64 `json:"missions_deleted"`
	CompetitorsDeleted int64 `json:"competitors_deleted"`
}
