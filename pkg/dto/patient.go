package dto

type PatientResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Age        int    `json:"age"`
	BloodGroup string `json:"blood_group"`
}

type PatientListResponse struct {
	Patients []PatientResponse `json:"patients"`
	Total    int               `json:"total"`
}

// RecognizeResponse is returned by POST /v1/recognize. Patient is set only
// when Match is true.
type RecognizeResponse struct {
	Match     bool             `json:"match"`
	PatientID string           `json:"patient_id,omitempty"`
	Distance  *float64         `json:"distance,omitempty"`
	Patient   *PatientResponse `json:"patient,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

type UploadRecordResponse struct {
	Message  string   `json:"message"`
	Filename string   `json:"filename"`
	Records  []string `json:"records"`
}

type RecordsResponse struct {
	PatientID string   `json:"patient_id"`
	Records   []string `json:"records"`
}

type AuditEntryResponse struct {
	PatientID string `json:"patient_id"`
	Action    string `json:"action"`
	File      string `json:"file"`
	Role      string `json:"role"`
}

type AuditResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
	Total   int                  `json:"total"`
}
