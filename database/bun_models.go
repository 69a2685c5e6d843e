package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunDocument represents the documents table for Bun ORM
type BunDocument struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID               string    `bun:"id,pk"` // ULID as string
	OwnerID          string    `bun:"owner_id,notnull"`
	Title            string    `bun:"title,notnull"`
	OriginalFilename string    `bun:"original_filename,notnull"`
	SourcePath       string    `bun:"source_path,notnull,unique"`
	ImagePaths       string    `bun:"image_paths,notnull,default:'[]'"` // JSON array
	ConversionStatus string    `bun:"conversion_status,notnull,default:'pending'"`
	IsActive         bool      `bun:"is_active,notnull,default:true"`
	SortOrder        int       `bun:"sort_order,notnull,default:0"`
	CreatedAt        time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ToDocument converts BunDocument to Document
func (bd *BunDocument) ToDocument() (*Document, error) {
	parsedULID, err := ulid.Parse(bd.ID)
	if err != nil {
		return nil, err
	}

	imagePaths, err := decodeImagePaths(bd.ImagePaths)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", bd.ID, err)
	}

	status := ConversionStatus(bd.ConversionStatus)
	if status == "" {
		status = ConversionPending
	}

	return &Document{
		ID:               parsedULID,
		OwnerID:          bd.OwnerID,
		Title:            bd.Title,
		OriginalFilename: bd.OriginalFilename,
		SourcePath:       bd.SourcePath,
		ImagePaths:       imagePaths,
		ConversionStatus: status,
		IsActive:         bd.IsActive,
		Order:            bd.SortOrder,
		CreatedAt:        bd.CreatedAt,
		UpdatedAt:        bd.UpdatedAt,
	}, nil
}

// FromDocument converts Document to BunDocument
func FromDocument(doc *Document) (*BunDocument, error) {
	imagePaths, err := encodeImagePaths(doc.ImagePaths)
	if err != nil {
		return nil, err
	}
	return &BunDocument{
		ID:               doc.ID.String(),
		OwnerID:          doc.OwnerID,
		Title:            doc.Title,
		OriginalFilename: doc.OriginalFilename,
		SourcePath:       doc.SourcePath,
		ImagePaths:       imagePaths,
		ConversionStatus: string(doc.ConversionStatus),
		IsActive:         doc.IsActive,
		SortOrder:        doc.Order,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}, nil
}

func encodeImagePaths(paths []string) (string, error) {
	if paths == nil {
		paths = []string{}
	}
	encoded, err := json.Marshal(paths)
	if err != nil {
		return "", fmt.Errorf("failed to encode image paths: %w", err)
	}
	return string(encoded), nil
}

func decodeImagePaths(raw string) ([]string, error) {
	paths := []string{}
	if raw == "" {
		return paths, nil
	}
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, fmt.Errorf("failed to decode image paths: %w", err)
	}
	return paths, nil
}

// BunJob represents the jobs table for Bun ORM
type BunJob struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          string     `bun:"id,pk"` // ULID as string
	Type        string     `bun:"type,notnull"`
	Status      string     `bun:"status,default:'pending'"`
	Progress    int        `bun:"progress,default:0"`
	CurrentStep string     `bun:"current_step,default:''"`
	TotalSteps  int        `bun:"total_steps,default:0"`
	Message     string     `bun:"message,default:''"`
	Error       string     `bun:"error,nullzero"`
	Result      string     `bun:"result,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
}

// ToJob converts BunJob to Job
func (bj *BunJob) ToJob() (*Job, error) {
	parsedULID, err := ulid.Parse(bj.ID)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:          parsedULID,
		Type:        JobType(bj.Type),
		Status:      JobStatus(bj.Status),
		Progress:    bj.Progress,
		CurrentStep: bj.CurrentStep,
		TotalSteps:  bj.TotalSteps,
		Message:     bj.Message,
		Error:       bj.Error,
		Result:      bj.Result,
		CreatedAt:   bj.CreatedAt,
		UpdatedAt:   bj.UpdatedAt,
		StartedAt:   bj.StartedAt,
		CompletedAt: bj.CompletedAt,
	}, nil
}

// FromJob converts Job to BunJob
func FromJob(job *Job) *BunJob {
	return &BunJob{
		ID:          job.ID.String(),
		Type:        string(job.Type),
		Status:      string(job.Status),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		Message:     job.Message,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}
