package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/medface/internal/models"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "activity.record_uploaded", Subject(models.EventRecordUploaded))
	assert.Equal(t, "activity.patient_registered", Subject(models.EventPatientRegistered))
}
