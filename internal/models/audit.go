package models

// Audit actions recorded by the record index.
const (
	ActionUpload         = "upload"
	ActionUploadRejected = "upload_rejected"
)

// AuditEntry is an immutable record of one upload attempt.
type AuditEntry struct {
	PatientID string `json:"patient_id" db:"patient_id"`
	Action    string `json:"action" db:"action"`
	File      string `json:"file" db:"file"`
	Role      string `json:"role" db:"role"`
}
