// Package search provides full-text search over guide content and messages,
// backed by Meilisearch with a PostgreSQL fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultGuide   ResultType = "guide"
	ResultMessage ResultType = "message"
)

// Guide record kinds.
const (
	KindInstruction = "instruction"
	KindKey         = "key"
	KindDocument    = "document"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Kind    string     `json:"kind,omitempty"`
}

// Query describes a search request. ViewerID scopes message hits to what the
// viewer is entitled to see.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	ViewerID      string
	ViewerIsAdmin bool
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// GuideRecord is the data indexed for one guide entry.
type GuideRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Kind  string `json:"kind"`
}

// MessageRecord is the data indexed for one message.
type MessageRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	SenderName string `json:"senderName"`
	IsGlobal   bool   `json:"isGlobal"`
}
