package database

import (
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ConversionStatus is the state of a document's preview conversion
type ConversionStatus string

const (
	ConversionPending    ConversionStatus = "pending"
	ConversionProcessing ConversionStatus = "processing"
	ConversionCompleted  ConversionStatus = "completed"
	ConversionFailed     ConversionStatus = "failed"
)

// ErrNotFound is returned when no document matches the requested id
var ErrNotFound = errors.New("document not found")

// Document is one uploaded PDF and its derived preview images
type Document struct {
	ID               ulid.ULID        `json:"id"`
	OwnerID          string           `json:"ownerId"`
	Title            string           `json:"title"`
	OriginalFilename string           `json:"originalFilename"`
	SourcePath       string           `json:"sourcePath"` // storage relative, e.g. pdfs/<ulid>.pdf
	ImagePaths       []string         `json:"imagePaths"`
	ConversionStatus ConversionStatus `json:"conversionStatus"`
	IsActive         bool             `json:"isActive"`
	Order            int              `json:"order"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ConversionUpdate is a partial update of the fields owned by the conversion pipeline.
// Nil fields are left untouched.
type ConversionUpdate struct {
	Status     *ConversionStatus
	ImagePaths *[]string
}

// MetadataUpdate is a partial update of the user editable fields.
// It never touches ConversionStatus or ImagePaths.
type MetadataUpdate struct {
	Title    *string
	IsActive *bool
	Order    *int
	// ExclusiveActive deactivates the owner's other documents when IsActive is set true
	ExclusiveActive bool
}

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// Repository defines database operations
type Repository interface {
	Close() error
	CreateDocument(doc *Document, exclusiveActive bool) error
	GetDocument(id string) (*Document, error)
	ListDocumentsByOwner(ownerID string) ([]Document, error)
	ListActiveDocuments() ([]Document, error)
	ListDocumentsByStatus(statuses ...ConversionStatus) ([]Document, error)
	ListDocumentsWithoutImages() ([]Document, error)
	ListAllDocuments() ([]Document, error)
	CountDocuments(ownerID string, activeOnly bool) (int, error)
	UpdateConversion(id string, update ConversionUpdate) error
	UpdateMetadata(id string, update MetadataUpdate) (*Document, error)
	DeleteDocument(id string) error
	// Job tracking methods
	CreateJob(jobType JobType, message string) (*Job, error)
	UpdateJobProgress(jobID ulid.ULID, progress int, currentStep string) error
	UpdateJobStatus(jobID ulid.ULID, status JobStatus, message string) error
	UpdateJobError(jobID ulid.ULID, errorMsg string) error
	CompleteJob(jobID ulid.ULID, result string) error
	GetJob(jobID ulid.ULID) (*Job, error)
	GetRecentJobs(limit, offset int) ([]Job, error)
	GetActiveJobs() ([]Job, error)
	DeleteOldJobs(olderThan time.Duration) (int, error)
}

// NewDocument builds a pending, active document ready for CreateDocument
func NewDocument(ownerID, title, originalFilename, sourcePath string) (*Document, error) {
	now := time.Now()
	id, err := CalculateUUID(now)
	if err != nil {
		return nil, err
	}
	return &Document{
		ID:               id,
		OwnerID:          ownerID,
		Title:            title,
		OriginalFilename: originalFilename,
		SourcePath:       sourcePath,
		ImagePaths:       []string{},
		ConversionStatus: ConversionPending,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// FetchDocument fetches the requested document by ULID
func FetchDocument(id string, db Repository) (*Document, error) {
	doc, err := db.GetDocument(id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			Logger.Error("Database error fetching document", "id", id, "error", err)
		}
		return nil, err
	}
	return doc, nil
}

// CalculateUUID for the incoming file
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}
