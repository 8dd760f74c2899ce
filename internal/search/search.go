package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	CategoryID string  `json:"categoryId"`
	Score      float64 `json:"score,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterCategoryID string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a thread search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ThreadRecord is the data we index for a thread.
type ThreadRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	CategoryID string `json:"categoryId"`
	CourseID   string `json:"courseId"`
	AuthorName string `json:"authorName"`
}
