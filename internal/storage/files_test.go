package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/medface/internal/models"
)

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	return s, dir
}

func collectEntries(t *testing.T, s *FileStore) []models.GalleryEntry {
	t.Helper()
	var out []models.GalleryEntry
	for e, err := range s.Entries(context.Background()) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestFileStore_RegisterAndGetProfile(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	profile := models.Profile{Name: "Ann", Age: 41, BloodGroup: "O-"}
	id, err := s.Register(ctx, profile, []float32{0.1, 0.2, 0.3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, profile, got)

	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFileStore_IDsAreUnique(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 25; i++ {
		id, err := s.Register(ctx, models.Profile{Name: "p", Age: i}, []float32{float32(i)})
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestFileStore_RegenerateCollidingID(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	ids := []string{"same", "same", "other"}
	s.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := s.Register(ctx, models.Profile{Name: "a"}, []float32{1})
	require.NoError(t, err)
	second, err := s.Register(ctx, models.Profile{Name: "b"}, []float32{2})
	require.NoError(t, err)

	assert.Equal(t, "same", first)
	assert.Equal(t, "other", second)
}

func TestFileStore_EntriesFollowRegistrationOrderAndReload(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	id1, err := s.Register(ctx, models.Profile{Name: "one"}, []float32{1, 0})
	require.NoError(t, err)
	id2, err := s.Register(ctx, models.Profile{Name: "two"}, []float32{0, 1})
	require.NoError(t, err)

	seq := s.Entries(ctx)
	var ids []string
	for e, err := range seq {
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{id1, id2}, ids)

	id3, err := s.Register(ctx, models.Profile{Name: "three"}, []float32{1, 1})
	require.NoError(t, err)

	// Ranging over the same sequence again sees the new entry.
	ids = ids[:0]
	for e, err := range seq {
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{id1, id2, id3}, ids)
}

func TestFileStore_RegisterRejectsBadInput(t *testing.T) {
	s, dir := newFileStore(t)
	ctx := context.Background()

	_, err := s.Register(ctx, models.Profile{Name: "x", Age: -3}, []float32{1})
	assert.ErrorIs(t, err, models.ErrInvalidProfile)

	_, err = s.Register(ctx, models.Profile{Name: "x"}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidEncoding)

	for _, name := range []string{PatientsFile, EncodingsFile} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(statErr), "%s should not exist", name)
	}
}

func TestFileStore_RegisterRollsBackEncodingOnProfileFailure(t *testing.T) {
	s, dir := newFileStore(t)
	ctx := context.Background()

	// A directory where the patients table should be makes its write fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, PatientsFile), 0o755))

	_, err := s.Register(ctx, models.Profile{Name: "x"}, []float32{1, 2})
	require.Error(t, err)

	assert.Empty(t, collectEntries(t, s))
}

func TestFileStore_OnDiskFormat(t *testing.T) {
	s, dir := newFileStore(t)
	ctx := context.Background()

	id, err := s.Register(ctx, models.Profile{Name: "Ann", Age: 3, BloodGroup: "B+"}, []float32{0.5, -1})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, PatientsFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"`+id+`": {"name": "Ann", "age": 3, "blood_group": "B+"}}`, string(raw))

	raw, err = os.ReadFile(filepath.Join(dir, EncodingsFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"`+id+`": [0.5, -1]}`, string(raw))
}

func TestFileStore_LinkUnknownPatient(t *testing.T) {
	s, dir := newFileStore(t)
	ctx := context.Background()

	_, err := s.Link(ctx, "never-registered", "a.pdf")
	assert.ErrorIs(t, err, models.ErrUnknownPatient)

	records, err := s.ListFor(ctx, "never-registered")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	_, statErr := os.Stat(filepath.Join(dir, MappingFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileStore_LinkKeepsDuplicates(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	id, err := s.Register(ctx, models.Profile{Name: "Ann"}, []float32{1})
	require.NoError(t, err)

	_, err = s.Link(ctx, id, "a.pdf")
	require.NoError(t, err)
	records, err := s.Link(ctx, id, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "a.pdf"}, records)

	listed, err := s.ListFor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "a.pdf"}, listed)
}

func TestFileStore_AuditIsUnconditional(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, models.AuditEntry{PatientID: "ghost", Action: models.ActionUploadRejected, File: "x.pdf", Role: "nurse"}))
	require.NoError(t, s.AppendAudit(ctx, models.AuditEntry{PatientID: "p1", Action: models.ActionUpload, File: "y.pdf", Role: "doctor"}))

	all, err := s.Audit(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ghost", all[0].PatientID)
	assert.Equal(t, "p1", all[1].PatientID)

	filtered, err := s.Audit(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "y.pdf", filtered[0].File)
}

func TestFileStore_ListPatientsAndCount(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	id1, err := s.Register(ctx, models.Profile{Name: "one"}, []float32{1})
	require.NoError(t, err)
	id2, err := s.Register(ctx, models.Profile{Name: "two"}, []float32{2})
	require.NoError(t, err)

	patients, err := s.ListPatients(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, id1, patients[0].ID)
	assert.Equal(t, "two", patients[1].Profile.Name)
	assert.Equal(t, id2, patients[1].ID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
