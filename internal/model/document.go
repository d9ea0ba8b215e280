// Package model contains the document record shared by the store
// implementations and the pipeline stages.
package model

import (
	"time"
)

// Status describes where a document sits in the ingestion lifecycle. The
// happy path is discovered -> downloaded -> parsed; failed can be entered
// from any state and is terminal for the pipeline.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusDownloaded Status = "downloaded"
	StatusParsed     Status = "parsed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDiscovered, StatusDownloaded, StatusParsed, StatusFailed:
		return true
	}
	return false
}

// AnnouncementLayout is the textual format announcement dates are stored in:
// second precision, no zone offset.
const AnnouncementLayout = "2006-01-02T15:04:05"

// Document is one tracked transcript attachment. Pointer fields are NULL in
// the store until the matching transition sets them.
type Document struct {
	ID                string     `json:"transcriptUuid"`
	CompanyName       string     `json:"companyName"`
	ScriptCode        string     `json:"scriptCode"`
	PDFURL            string     `json:"pdfUrl"`
	PDFURLSHA256      string     `json:"pdfUrlSha256"`
	AnnouncementDate  string     `json:"announcementDate"`
	Status            Status     `json:"processingStatus"`
	PDFFileName       *string    `json:"pdfFileName,omitempty"`
	PDFCreatedAt      *time.Time `json:"pdfCreatedAt,omitempty"`
	TextFileName      *string    `json:"textFileName,omitempty"`
	TextFileCreatedAt *time.Time `json:"textFileCreatedAt,omitempty"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}
