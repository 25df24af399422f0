package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/ekkoscope/sherlock/pkg/repo"
)

// newSiteRepo creates a Neo4j-backed repository for Site nodes.
func newSiteRepo(sessions repo.SessionFactory) *repo.Neo4jRepo[Site, string] {
	return repo.NewNeo4jRepo[Site, string](
		sessions,
		"Site",
		siteToMap,
		siteFromRecord,
	)
}

func siteToMap(s Site) map[string]any {
	return map[string]any{
		"id":           s.ID,
		"business_id":  s.BusinessID,
		"url":          s.URL,
		"host":         s.Host,
		"content_type": s.ContentType,
		"scan_id":      s.ScanID,
	}
}

func siteFromRecord(rec *neo4j.Record) (Site, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Site{}, err
	}
	p := node.Props
	return Site{
		ID:          strProp(p, "id"),
		BusinessID:  intProp(p, "business_id"),
		URL:         strProp(p, "url"),
		Host:        strProp(p, "host"),
		ContentType: strProp(p, "content_type"),
		ScanID:      intProp(p, "scan_id"),
	}, nil
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	if n, ok := props[key].(int64); ok {
		return n
	}
	return 0
}
