package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type createSessionPayload struct {
	DoctorID        string `json:"doctor_id" validate:"required"`
	PatientID       string `json:"patient_id" validate:"required"`
	MaxParticipants int    `json:"max_participants" validate:"omitempty,gte=2"`
}

func TestValidateStructPasses(t *testing.T) {
	err := ValidateStruct(createSessionPayload{
		DoctorID:        "doc-1",
		PatientID:       "pat-1",
		MaxParticipants: 2,
	})
	require.NoError(t, err)
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(createSessionPayload{MaxParticipants: 1})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 3)

	fields := make(map[string]string, len(failures))
	for _, failure := range failures {
		fields[failure.Field] = failure.Tag
	}
	require.Equal(t, "required", fields["doctor_id"])
	require.Equal(t, "required", fields["patient_id"])
	require.Equal(t, "gte", fields["max_participants"])

	require.Contains(t, err.Error(), "max_participants failed on gte=2")
}
