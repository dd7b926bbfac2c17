package handlers

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/medface/internal/patients"
	"github.com/your-org/medface/pkg/dto"
)

type RecordHandler struct {
	svc *patients.Service
}

func NewRecordHandler(svc *patients.Service) *RecordHandler {
	return &RecordHandler{svc: svc}
}

// Upload stores a document for a patient. The uploader's role comes from the
// "role" form field.
func (h *RecordHandler) Upload(c *gin.Context) {
	data, header, ok := readFormFile(c, "file")
	if !ok {
		return
	}

	stored, records, err := h.svc.UploadRecord(c.Request.Context(), patients.Upload{
		PatientID:   c.Param("id"),
		Filename:    header.Filename,
		Role:        strings.TrimSpace(c.PostForm("role")),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.UploadRecordResponse{
		Message:  "record uploaded",
		Filename: stored,
		Records:  records,
	})
}

func (h *RecordHandler) List(c *gin.Context) {
	id := c.Param("id")
	records, err := h.svc.Records(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RecordsResponse{PatientID: id, Records: records})
}

func (h *RecordHandler) Download(c *gin.Context) {
	filename := c.Param("filename")
	data, err := h.svc.OpenRecord(c.Request.Context(), c.Param("id"), filename)
	if err != nil {
		writeError(c, err)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Data(http.StatusOK, contentType, data)
}

// Audit lists audit entries, optionally filtered by the patient_id query parameter.
func (h *RecordHandler) Audit(c *gin.Context) {
	entries, err := h.svc.AuditLog(c.Request.Context(), c.Query("patient_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, dto.AuditEntryResponse{
			PatientID: e.PatientID,
			Action:    e.Action,
			File:      e.File,
			Role:      e.Role,
		})
	}
	c.JSON(http.StatusOK, dto.AuditResponse{Entries: resp, Total: len(resp)})
}
