package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/finsights/internal/model"
)

const documentColumns = `transcript_uuid, company_name, script_code, pdf_url, pdf_url_sha256,
	announcement_date, processing_status, pdf_file_name, pdf_created_at,
	text_file_name, text_file_created_at, error_message, created_at, updated_at`

// DocumentRepository wraps all SQL used by the pipeline stages.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// Insert registers a discovered document. A row with the same pdf_url_sha256
// makes it a no-op that returns model.ErrDuplicate.
func (r *DocumentRepository) Insert(ctx context.Context, doc *model.Document) error {
	now := time.Now().UTC()
	doc.Status = model.StatusDiscovered
	doc.CreatedAt = now
	doc.UpdatedAt = now
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO documents (transcript_uuid, company_name, script_code, pdf_url, pdf_url_sha256,
			announcement_date, processing_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (pdf_url_sha256) DO NOTHING
	`, doc.ID, doc.CompanyName, doc.ScriptCode, doc.PDFURL, doc.PDFURLSHA256,
		doc.AnnouncementDate, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert document %s: %w", doc.PDFURL, model.ErrDuplicate)
	}
	return nil
}

// Get returns a document by id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*model.Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE transcript_uuid=$1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

// ListByStatus returns documents in the given status, newest announcement
// first. A limit <= 0 returns every match.
func (r *DocumentRepository) ListByStatus(ctx context.Context, status model.Status, limit int) ([]*model.Document, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE processing_status=$1
		ORDER BY announcement_date DESC
		LIMIT $2
	`, status, lim)
	if err != nil {
		return nil, fmt.Errorf("list documents by status: %w", err)
	}
	return collectDocuments(rows)
}

// ListCreatedBefore returns documents registered before cutoff.
func (r *DocumentRepository) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*model.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list documents before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return collectDocuments(rows)
}

// MarkDownloaded moves a document from discovered to downloaded.
func (r *DocumentRepository) MarkDownloaded(ctx context.Context, id, fileName string) error {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET processing_status=$1,
			pdf_file_name=$2,
			pdf_created_at=$3,
			updated_at=$3
		WHERE transcript_uuid=$4 AND processing_status=$5
	`, model.StatusDownloaded, fileName, now, id, model.StatusDiscovered)
	if err != nil {
		return fmt.Errorf("mark downloaded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id, model.StatusDiscovered)
	}
	return nil
}

// MarkParsed moves a document from downloaded to parsed.
func (r *DocumentRepository) MarkParsed(ctx context.Context, id, fileName string) error {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET processing_status=$1,
			text_file_name=$2,
			text_file_created_at=$3,
			updated_at=$3
		WHERE transcript_uuid=$4 AND processing_status=$5
	`, model.StatusParsed, fileName, now, id, model.StatusDownloaded)
	if err != nil {
		return fmt.Errorf("mark parsed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id, model.StatusDownloaded)
	}
	return nil
}

// MarkFailed records a failure from any status.
func (r *DocumentRepository) MarkFailed(ctx context.Context, id, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET processing_status=$1,
			error_message=$2,
			updated_at=$3
		WHERE transcript_uuid=$4
	`, model.StatusFailed, reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Delete removes a document row.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE transcript_uuid=$1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// classifyMiss runs only after a conditional update matched zero rows and
// tells a missing row apart from a row in an unexpected status.
func (r *DocumentRepository) classifyMiss(ctx context.Context, id string, expected model.Status) error {
	var actual model.Status
	err := r.pool.QueryRow(ctx, `SELECT processing_status FROM documents WHERE transcript_uuid=$1`, id).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return &model.TransitionError{ID: id, Expected: expected, Actual: actual}
}

func collectDocuments(rows pgx.Rows) ([]*model.Document, error) {
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	err := row.Scan(
		&doc.ID, &doc.CompanyName, &doc.ScriptCode, &doc.PDFURL, &doc.PDFURLSHA256,
		&doc.AnnouncementDate, &doc.Status, &doc.PDFFileName, &doc.PDFCreatedAt,
		&doc.TextFileName, &doc.TextFileCreatedAt, &doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
