package domain

import "time"

// Application is a membership application as persisted by the document store.
type Application struct {
	ID         string          `json:"id"`
	FullName   string          `json:"fullName"`
	Email      string          `json:"email"`
	Phone      *string         `json:"phone"`
	Department *string         `json:"department"`
	Reason     string          `json:"reason"`
	Skills     *string         `json:"skills"`
	Consent    bool            `json:"consent"`
	CVPath     *string         `json:"cvPath"`
	Attachment *AttachmentMeta `json:"-"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// AttachmentMeta describes a stored CV object.
type AttachmentMeta struct {
	OriginalFilename string `json:"originalFilename"`
	ContentType      string `json:"contentType"`
	SizeBytes        int64  `json:"sizeBytes"`
}

type ProjectStatus string

const (
	ProjectOngoing   ProjectStatus = "ongoing"
	ProjectCompleted ProjectStatus = "completed"
)

type ProjectType string

const (
	ProjectResearch ProjectType = "research"
	ProjectEvent    ProjectType = "event"
	ProjectSoftware ProjectType = "software"
	ProjectOther    ProjectType = "other"
)

type TeamMember struct {
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Social string `json:"social,omitempty"`
}

type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Project struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Summary     string        `json:"summary"`
	Description string        `json:"description"`
	Image       string        `json:"image"`
	Gallery     []string      `json:"gallery,omitempty"`
	Status      ProjectStatus `json:"status"`
	Year        int           `json:"year"`
	Type        ProjectType   `json:"type,omitempty"`
	Tags        []string      `json:"tags"`
	Team        []TeamMember  `json:"team,omitempty"`
	Links       []Link        `json:"links,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaGIF   MediaKind = "gif"
	MediaVideo MediaKind = "video"
)

type InspirationMedia struct {
	ID        string    `json:"id"`
	Kind      MediaKind `json:"kind"`
	Src       string    `json:"src"`
	Thumb     string    `json:"thumb,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Author    string    `json:"author,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Page is the paginated listing envelope.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

// ErrorResponse is the error envelope returned on every failure path.
type ErrorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

// ApplyResponse is returned after a successful submission.
type ApplyResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}
