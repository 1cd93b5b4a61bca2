package types

import "time"

// RootID is the id of the storage root directory.
const RootID int64 = 0

// Label is a user-assigned tag on an entity
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Entity is a file or directory record in the remote storage tree
type Entity struct {
	ID          int64
	ParentID    int64
	Name        string
	Path        string
	SHA1        string
	Pickcode    string
	IsDirectory bool
	Size        int64
	CTime       time.Time
	MTime       time.Time
	ATime       time.Time
	Thumb       string
	Star        bool
	Labels      []Label
	Score       int
	Hidden      bool
	Described   bool
	Violated    bool

	// PathURL is a precomputed browsable base URL, set only while
	// rendering directory rows.
	PathURL string
	// URL is derived per request and never supplied by a backend.
	URL string
}

// Attributes is the JSON view of an Entity. Field order is the wire order.
type Attributes struct {
	ID          int64   `json:"id"`
	ParentID    int64   `json:"parent_id"`
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	SHA1        *string `json:"sha1"`
	Pickcode    *string `json:"pickcode"`
	IsDirectory bool    `json:"is_directory"`
	Size        int64   `json:"size"`
	CTime       int64   `json:"ctime"`
	MTime       int64   `json:"mtime"`
	ATime       int64   `json:"atime"`
	Thumb       *string `json:"thumb"`
	Star        bool    `json:"star"`
	Labels      []Label `json:"labels"`
	Score       int     `json:"score"`
	Hidden      bool    `json:"hidden"`
	Described   bool    `json:"described"`
	Violated    bool    `json:"violated"`
	URL         string  `json:"url"`
}

// Ancestor is one link of the chain from the root down to a directory
type Ancestor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Attributes converts the entity into its JSON view.
func (e *Entity) Attributes() Attributes {
	labels := e.Labels
	if labels == nil {
		labels = []Label{}
	}
	return Attributes{
		ID:          e.ID,
		ParentID:    e.ParentID,
		Name:        e.Name,
		Path:        e.Path,
		SHA1:        optional(e.SHA1),
		Pickcode:    optional(e.Pickcode),
		IsDirectory: e.IsDirectory,
		Size:        e.Size,
		CTime:       unix(e.CTime),
		MTime:       unix(e.MTime),
		ATime:       unix(e.ATime),
		Thumb:       optional(e.Thumb),
		Star:        e.Star,
		Labels:      labels,
		Score:       e.Score,
		Hidden:      e.Hidden,
		Described:   e.Described,
		Violated:    e.Violated,
		URL:         e.URL,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
