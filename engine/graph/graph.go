// Package graph projects scanned sites and the topics they cover into Neo4j:
// (:Site)-[:COVERS {depth, category}]->(:Topic).
package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/pkg/repo"
)

// GraphStore provides topic-coverage operations on top of the generic Neo4j
// repository.
type GraphStore struct {
	sessions repo.SessionFactory
	sites    *repo.Neo4jRepo[Site, string]
}

// New creates a GraphStore.
func New(sessions repo.SessionFactory) *GraphStore {
	return &GraphStore{
		sessions: sessions,
		sites:    newSiteRepo(sessions),
	}
}

// SiteID keys a Site node by business and URL.
func SiteID(businessID int64, url string) string {
	return strconv.FormatInt(businessID, 10) + "|" + url
}

// TopicKey normalizes a topic name into its node key.
func TopicKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

const coversCypher = `MATCH (s:Site {id: $site})
UNWIND $topics AS t
MERGE (tp:Topic {key: t.key})
  ON CREATE SET tp.name = t.name
MERGE (s)-[c:COVERS]->(tp)
SET c.depth = t.depth, c.category = t.category`

// ProjectScan merges the scan's site and one COVERS edge per topic. A
// rescanned page keeps its node and has its edges refreshed.
func (g *GraphStore) ProjectScan(ctx context.Context, scan domain.ContentScan) error {
	site := Site{
		ID:          SiteID(scan.BusinessID, scan.URL),
		BusinessID:  scan.BusinessID,
		URL:         scan.URL,
		Host:        domain.HostName(scan.URL),
		ContentType: string(scan.ContentType),
		ScanID:      scan.ID,
	}
	if err := g.sites.Merge(ctx, site); err != nil {
		return fmt.Errorf("graph: merge site: %w", err)
	}

	topics := make([]map[string]any, 0, len(scan.Topics))
	for _, t := range scan.Topics {
		key := TopicKey(t.Name)
		if key == "" {
			continue
		}
		topics = append(topics, map[string]any{
			"key":      key,
			"name":     t.Name,
			"depth":    int64(t.Depth),
			"category": t.Category,
		})
	}
	if len(topics) == 0 {
		return nil
	}

	sess := g.sessions(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, coversCypher, map[string]any{"site": site.ID, "topics": topics})
	if err != nil {
		return fmt.Errorf("graph: merge covers: %w", err)
	}
	return res.Err()
}

const relatedCypher = `MATCH (s:Site {business_id: $business})-[c:COVERS]->(t:Topic)
WHERE any(k IN $keywords WHERE t.key CONTAINS k)
RETURN s.url AS url, s.content_type AS content_type, t.name AS topic,
       c.category AS category, c.depth AS depth
ORDER BY c.depth DESC, t.key, s.url
LIMIT $limit`

// RelatedTopics returns coverage edges of the business whose topic contains
// any of keywords, deepest first.
func (g *GraphStore) RelatedTopics(ctx context.Context, businessID int64, keywords []string, limit int) ([]Coverage, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	sess := g.sessions(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, relatedCypher, map[string]any{
		"business": businessID,
		"keywords": keywords,
		"limit":    int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: related topics: %w", err)
	}

	var out []Coverage
	for res.Next(ctx) {
		rec := res.Record()
		c := Coverage{}
		c.URL, _, _ = neo4j.GetRecordValue[string](rec, "url")
		c.ContentType, _, _ = neo4j.GetRecordValue[string](rec, "content_type")
		c.Topic, _, _ = neo4j.GetRecordValue[string](rec, "topic")
		c.Category, _, _ = neo4j.GetRecordValue[string](rec, "category")
		depth, _, _ := neo4j.GetRecordValue[int64](rec, "depth")
		c.Depth = int(depth)
		out = append(out, c)
	}
	return out, res.Err()
}

const orphanTopicsCypher = `MATCH (t:Topic) WHERE NOT (t)<-[:COVERS]-() DELETE t`

// ClearBusiness removes the business's sites, their edges, and any topic no
// longer covered by a site. It returns the number of sites removed.
func (g *GraphStore) ClearBusiness(ctx context.Context, businessID int64) (int64, error) {
	n, err := g.sites.DeleteBy(ctx, "business_id", businessID)
	if err != nil {
		return 0, fmt.Errorf("graph: delete sites: %w", err)
	}

	sess := g.sessions(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, orphanTopicsCypher, nil)
	if err != nil {
		return n, fmt.Errorf("graph: delete orphan topics: %w", err)
	}
	return n, res.Err()
}
