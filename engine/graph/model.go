package graph

// Site is one scanned page projected into the graph.
type Site struct {
	ID          string `json:"id"`
	BusinessID  int64  `json:"business_id"`
	URL         string `json:"url"`
	Host        string `json:"host"`
	ContentType string `json:"content_type"`
	ScanID      int64  `json:"scan_id"`
}

// Coverage is one Site-COVERS->Topic edge.
type Coverage struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Topic       string `json:"topic"`
	Category    string `json:"category"`
	Depth       int    `json:"depth"`
}
