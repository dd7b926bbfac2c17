package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/medface/internal/models"
	"github.com/your-org/medface/internal/patients"
	"github.com/your-org/medface/pkg/dto"
)

type PatientHandler struct {
	svc *patients.Service
}

func NewPatientHandler(svc *patients.Service) *PatientHandler {
	return &PatientHandler{svc: svc}
}

// Create registers a patient from multipart fields name, age, blood_group and
// a single-face image.
func (h *PatientHandler) Create(c *gin.Context) {
	age, err := strconv.Atoi(strings.TrimSpace(c.PostForm("age")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "age must be an integer"})
		return
	}
	profile := models.Profile{
		Name:       strings.TrimSpace(c.PostForm("name")),
		Age:        age,
		BloodGroup: strings.TrimSpace(c.PostForm("blood_group")),
	}

	imageData, header, ok := readFormFile(c, "image")
	if !ok {
		return
	}

	patient, err := h.svc.Register(c.Request.Context(), profile, imageData, header.Filename)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toPatientResponse(patient.ID, patient.Profile))
}

func (h *PatientHandler) List(c *gin.Context) {
	list, err := h.svc.ListPatients(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]dto.PatientResponse, 0, len(list))
	for _, p := range list {
		resp = append(resp, toPatientResponse(p.ID, p.Profile))
	}
	c.JSON(http.StatusOK, dto.PatientListResponse{Patients: resp, Total: len(resp)})
}

func (h *PatientHandler) Get(c *gin.Context) {
	id := c.Param("id")
	profile, err := h.svc.Profile(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPatientResponse(id, profile))
}

// Recognize identifies the single face in the uploaded image.
func (h *PatientHandler) Recognize(c *gin.Context) {
	imageData, _, ok := readFormFile(c, "image")
	if !ok {
		return
	}

	rec, err := h.svc.Recognize(c.Request.Context(), imageData)
	if err != nil {
		if errors.Is(err, models.ErrNoMatch) {
			c.JSON(http.StatusNotFound, dto.RecognizeResponse{Match: false, Reason: "no matching patient"})
			return
		}
		writeError(c, err)
		return
	}

	patient := toPatientResponse(rec.Patient.ID, rec.Patient.Profile)
	distance := rec.Distance
	c.JSON(http.StatusOK, dto.RecognizeResponse{
		Match:     true,
		PatientID: rec.Patient.ID,
		Distance:  &distance,
		Patient:   &patient,
	})
}

func toPatientResponse(id string, p models.Profile) dto.PatientResponse {
	return dto.PatientResponse{
		ID:         id,
		Name:       p.Name,
		Age:        p.Age,
		BloodGroup: p.BloodGroup,
	}
}

// readFormFile reads a whole multipart file. On failure it has already
// written the response.
func readFormFile(c *gin.Context, field string) ([]byte, *multipart.FileHeader, bool) {
	file, header, err := c.Request.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " file required"})
		return nil, nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read " + field + " failed"})
		return nil, nil, false
	}
	return data, header, true
}
