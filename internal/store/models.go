package store

// Project is an indexed workspace project.
type Project struct {
	ID        int64
	Name      string
	Path      string
	CreatedAt string
	UpdatedAt string
}

// Document is an indexed markdown file.
type Document struct {
	ID          int64
	ProjectID   int64
	Path        string // workspace-relative, unique
	Folder      string
	Filename    string
	Type        string
	Status      string
	Owner       string
	Tags        []string
	ContentHash string
	Mtime       float64
	Updated     string
	IndexedAt   string
}

// Chunk is a stored slice of a document body.
type Chunk struct {
	ID                int64
	DocumentID        int64
	Heading           string
	HeadingLevel      int
	Content           string
	ChunkOrder        int
	CharOffset        int
	IsPriorityHeading bool
}

// SearchResult is one ranked hit. Every ranking factor is carried
// individually so callers can explain the final score.
type SearchResult struct {
	ChunkID      int64
	DocumentID   int64
	ProjectName  string
	DocumentPath string
	Folder       string
	Heading      string
	Content      string
	Snippet      string
	BM25Score    float64
	TypeBoost    float64
	RecencyBoost float64
	HeadingBoost float64
	StatusBoost  float64
	FinalScore   float64
}

// TaskRow is one task as returned by task listings. Status, Owner and
// Updated are empty when the task file does not carry them.
type TaskRow struct {
	ProjectName string
	Path        string
	Filename    string
	Status      string
	Owner       string
	Updated     string
}

// Subscription is a registered webhook destination. Project is nil for
// global subscriptions.
type Subscription struct {
	ID          int64
	URL         string
	Secret      string
	EventTypes  []string
	Project     *string
	Description string
	Active      bool
	CreatedAt   string
}

// Delivery is one webhook delivery attempt. StatusCode is nil when no
// HTTP response was received.
type Delivery struct {
	ID             int64
	SubscriptionID int64
	EventType      string
	EventID        string
	Payload        string
	StatusCode     *int
	Success        bool
	ErrorMessage   string
	DeliveredAt    string
}
