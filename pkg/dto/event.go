package dto

// WSEvent is a WebSocket message for real-time activity delivery.
type WSEvent struct {
	Type      string   `json:"type"` // patient_registered, patient_recognized, record_uploaded, ...
	PatientID string   `json:"patient_id,omitempty"`
	File      string   `json:"file,omitempty"`
	Role      string   `json:"role,omitempty"`
	Distance  *float64 `json:"distance,omitempty"`
	Timestamp string   `json:"timestamp"`
}
