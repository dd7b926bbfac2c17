package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/medface/internal/models"
)

func TestTable_MissingFileIsEmpty(t *testing.T) {
	tbl := NewTable[map[string][]string](filepath.Join(t.TempDir(), "mapping.json"))

	m, err := tbl.Load()
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestTable_UpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mapping.json")
	tbl := NewTable[map[string][]string](path)

	err := tbl.Update(func(m *map[string][]string) error {
		*m = map[string][]string{"p1": {"a.pdf"}}
		return nil
	})
	require.NoError(t, err)

	reopened := NewTable[map[string][]string](path)
	m, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, m["p1"])
}

func TestTable_UpdateErrorWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	tbl := NewTable[[]models.AuditEntry](path)

	boom := errors.New("boom")
	err := tbl.Update(func(v *[]models.AuditEntry) error {
		*v = append(*v, models.AuditEntry{PatientID: "x"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTable_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewTable[map[string]models.Profile](path).Load()
	require.Error(t, err)
}

func TestTable_ConcurrentUpdatesAreNotLost(t *testing.T) {
	tbl := NewTable[[]models.AuditEntry](filepath.Join(t.TempDir(), "audit.json"))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tbl.Update(func(v *[]models.AuditEntry) error {
				*v = append(*v, models.AuditEntry{Action: models.ActionUpload})
				return nil
			})
		}()
	}
	wg.Wait()

	log, err := tbl.Load()
	require.NoError(t, err)
	assert.Len(t, log, writers)
}

func TestEncodingTable_PreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encodings.json")
	raw := `{"zeta": [1, 2], "alpha": [3, 4], "mid": [5.5, 6]}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	tbl := NewTable[encodingTable](path)
	got, err := tbl.Load()
	require.NoError(t, err)

	require.Len(t, got.entries, 3)
	assert.Equal(t, "zeta", got.entries[0].ID)
	assert.Equal(t, "alpha", got.entries[1].ID)
	assert.Equal(t, "mid", got.entries[2].ID)
	assert.Equal(t, []float32{5.5, 6}, got.entries[2].Encoding)

	require.NoError(t, tbl.Update(func(v *encodingTable) error {
		v.entries = append(v.entries, models.GalleryEntry{ID: "beta", Encoding: []float32{0}})
		return nil
	}))

	got, err = tbl.Load()
	require.NoError(t, err)
	ids := make([]string, 0, len(got.entries))
	for _, e := range got.entries {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid", "beta"}, ids)
}

func TestEncodingTable_RejectsNonObject(t *testing.T) {
	var tbl encodingTable
	require.Error(t, tbl.UnmarshalJSON([]byte(`[1, 2, 3]`)))
}
