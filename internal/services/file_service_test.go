package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/prontivus/telecare/pkg/errors"
)

func TestFileUploadAndGet(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)

	uploaded, err := env.files.Upload(context.Background(), session.SessionID, doctorPrincipal("d-1"), UploadFileParams{
		FileName: "prescription.pdf",
		FilePath: "blobs/clinic-1/prescription.pdf",
		FileSize: 18220,
		FileType: "document",
		MimeType: "application/pdf",
		IsPublic: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, uploaded.EncryptionKey)
	require.True(t, uploaded.File.IsEncrypted)

	// The stored key is wrapped, not the raw key.
	require.NotEqual(t, uploaded.EncryptionKey, uploaded.File.EncryptionKey)

	fetched, err := env.files.Get(context.Background(), session.SessionID, uploaded.File.ID, patientPrincipal("p-1"))
	require.NoError(t, err)
	require.Equal(t, uploaded.EncryptionKey, fetched.EncryptionKey)
	require.Equal(t, "prescription.pdf", fetched.File.FileName)
}

func TestFilePrivateVisibility(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)

	private, err := env.files.Upload(context.Background(), session.SessionID, doctorPrincipal("d-1"), UploadFileParams{
		FileName: "notes.txt",
		FilePath: "blobs/clinic-1/notes.txt",
		FileSize: 120,
	})
	require.NoError(t, err)

	// Uploader sees it, the other participant does not.
	mine, err := env.files.List(context.Background(), session.SessionID, doctorPrincipal("d-1"))
	require.NoError(t, err)
	require.Len(t, mine, 1)

	theirs, err := env.files.List(context.Background(), session.SessionID, patientPrincipal("p-1"))
	require.NoError(t, err)
	require.Empty(t, theirs)

	_, err = env.files.Get(context.Background(), session.SessionID, private.File.ID, patientPrincipal("p-1"))
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFileAccessExpiry(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)

	uploaded, err := env.files.Upload(context.Background(), session.SessionID, doctorPrincipal("d-1"), UploadFileParams{
		FileName:  "scan.png",
		FilePath:  "blobs/clinic-1/scan.png",
		FileSize:  99000,
		IsPublic:  true,
		AccessTTL: time.Hour,
	})
	require.NoError(t, err)

	_, err = env.files.Get(context.Background(), session.SessionID, uploaded.File.ID, patientPrincipal("p-1"))
	require.NoError(t, err)

	env.advance(2 * time.Hour)
	_, err = env.files.Get(context.Background(), session.SessionID, uploaded.File.ID, patientPrincipal("p-1"))
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	visible, err := env.files.List(context.Background(), session.SessionID, doctorPrincipal("d-1"))
	require.NoError(t, err)
	require.Empty(t, visible)
}

func TestFileSharingDisabled(t *testing.T) {
	env := newTestEnv(t)

	filesOff := false
	consentOff := false
	session, err := env.sessions.Create(context.Background(), CreateSessionParams{
		TenantID:           "clinic-1",
		DoctorID:           "d-1",
		PatientID:          "p-1",
		ScheduledStart:     env.now.Add(time.Hour),
		ScheduledEnd:       env.now.Add(2 * time.Hour),
		FileSharingEnabled: &filesOff,
		ConsentRequired:    &consentOff,
	})
	require.NoError(t, err)

	_, err = env.files.Upload(context.Background(), session.SessionID, doctorPrincipal("d-1"), UploadFileParams{
		FileName: "x.bin",
		FilePath: "blobs/x.bin",
		FileSize: 1,
	})
	require.ErrorIs(t, err, apperrors.ErrFeatureDisabled)
}

func TestFileUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)

	_, err := env.files.Upload(context.Background(), session.SessionID, doctorPrincipal("d-1"), UploadFileParams{
		FileName: "",
		FilePath: "blobs/x.bin",
		FileSize: 10,
	})
	require.Error(t, err)

	_, err = env.files.Upload(context.Background(), session.SessionID, doctorPrincipal("d-1"), UploadFileParams{
		FileName: "x.bin",
		FilePath: "blobs/x.bin",
		FileSize: 0,
	})
	require.Error(t, err)

	_, err = env.files.Upload(context.Background(), session.SessionID, patientPrincipal("p-99"), UploadFileParams{
		FileName: "x.bin",
		FilePath: "blobs/x.bin",
		FileSize: 10,
	})
	require.ErrorIs(t, err, apperrors.ErrNotSessionParticipant)
}

func TestFileUploadBlockedAfterSessionEnds(t *testing.T) {
	env := newTestEnv(t)
	session := env.startSession(t)

	_, err := env.sessions.End(context.Background(), session.SessionID, doctorPrincipal("d-1"), "")
	require.NoError(t, err)

	_, err = env.files.Upload(context.Background(), session.SessionID, doctorPrincipal("d-1"), UploadFileParams{
		FileName: "late.bin",
		FilePath: "blobs/late.bin",
		FileSize: 10,
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidState)
}
