package models

import "time"

// Activity event types fanned out to live subscribers.
const (
	EventPatientRegistered = "patient_registered"
	EventPatientRecognized = "patient_recognized"
	EventRecognitionMissed = "recognition_missed"
	EventRecordUploaded    = "record_uploaded"
	EventUploadRejected    = "upload_rejected"
)

// Event describes one completed operation for live subscribers.
type Event struct {
	Type      string    `json:"type"`
	PatientID string    `json:"patient_id,omitempty"`
	File      string    `json:"file,omitempty"`
	Role      string    `json:"role,omitempty"`
	Distance  *float64  `json:"distance,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
