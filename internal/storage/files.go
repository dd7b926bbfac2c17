package storage

import (
	"context"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/medface/internal/models"
)

// Table file names inside the data directory.
const (
	PatientsFile  = "patients.json"
	EncodingsFile = "encodings.json"
	MappingFile   = "mapping.json"
	AuditFile     = "audit.json"
)

// FileStore keeps the gallery and the record index as four JSON tables in a
// single directory. Every read goes back to disk.
type FileStore struct {
	dir string

	// galleryMu makes the patients and encodings tables change together:
	// registration holds it exclusively across both writes.
	galleryMu sync.RWMutex
	patients  *Table[map[string]models.Profile]
	encodings *Table[encodingTable]

	mapping *Table[map[string][]string]
	audit   *Table[[]models.AuditEntry]

	newID func() string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{
		dir:       dir,
		patients:  NewTable[map[string]models.Profile](filepath.Join(dir, PatientsFile)),
		encodings: NewTable[encodingTable](filepath.Join(dir, EncodingsFile)),
		mapping:   NewTable[map[string][]string](filepath.Join(dir, MappingFile)),
		audit:     NewTable[[]models.AuditEntry](filepath.Join(dir, AuditFile)),
		newID:     func() string { return uuid.New().String() },
	}, nil
}

// Ping reports whether the data directory is still reachable.
func (s *FileStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

func (s *FileStore) Close() {}

// --- Gallery ---

// Register stores a profile and its reference encoding under a fresh id.
// Either both tables receive the entry or neither does.
func (s *FileStore) Register(_ context.Context, profile models.Profile, encoding []float32) (string, error) {
	if err := profile.Validate(); err != nil {
		return "", err
	}
	if err := checkEncoding(encoding); err != nil {
		return "", err
	}

	s.galleryMu.Lock()
	defer s.galleryMu.Unlock()

	var id string
	err := s.encodings.Update(func(t *encodingTable) error {
		id = s.newID()
		for t.indexOf(id) >= 0 {
			id = s.newID()
		}
		vec := make([]float32, len(encoding))
		copy(vec, encoding)
		t.entries = append(t.entries, models.GalleryEntry{ID: id, Encoding: vec})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("register encoding: %w", err)
	}

	err = s.patients.Update(func(m *map[string]models.Profile) error {
		if *m == nil {
			*m = make(map[string]models.Profile)
		}
		if _, exists := (*m)[id]; exists {
			return fmt.Errorf("patient id %s already present", id)
		}
		(*m)[id] = profile
		return nil
	})
	if err != nil {
		if rbErr := s.encodings.Update(func(t *encodingTable) error {
			t.remove(id)
			return nil
		}); rbErr != nil {
			return "", fmt.Errorf("register profile: %w (rollback failed: %v)", err, rbErr)
		}
		return "", fmt.Errorf("register profile: %w", err)
	}

	return id, nil
}

func (s *FileStore) GetProfile(_ context.Context, id string) (models.Profile, error) {
	s.galleryMu.RLock()
	defer s.galleryMu.RUnlock()

	patients, err := s.patients.Load()
	if err != nil {
		return models.Profile{}, err
	}
	p, ok := patients[id]
	if !ok {
		return models.Profile{}, fmt.Errorf("patient %s: %w", id, models.ErrNotFound)
	}
	return p, nil
}

func (s *FileStore) Exists(_ context.Context, id string) (bool, error) {
	s.galleryMu.RLock()
	defer s.galleryMu.RUnlock()

	patients, err := s.patients.Load()
	if err != nil {
		return false, err
	}
	_, ok := patients[id]
	return ok, nil
}

// Entries enumerates the gallery in registration order. Each range over the
// returned sequence reloads the encodings table.
func (s *FileStore) Entries(_ context.Context) iter.Seq2[models.GalleryEntry, error] {
	return func(yield func(models.GalleryEntry, error) bool) {
		s.galleryMu.RLock()
		table, err := s.encodings.Load()
		s.galleryMu.RUnlock()
		if err != nil {
			yield(models.GalleryEntry{}, err)
			return
		}
		for _, e := range table.entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ListPatients returns every registered patient in registration order.
func (s *FileStore) ListPatients(_ context.Context) ([]models.Patient, error) {
	s.galleryMu.RLock()
	defer s.galleryMu.RUnlock()

	table, err := s.encodings.Load()
	if err != nil {
		return nil, err
	}
	profiles, err := s.patients.Load()
	if err != nil {
		return nil, err
	}

	patients := make([]models.Patient, 0, len(table.entries))
	for _, e := range table.entries {
		p, ok := profiles[e.ID]
		if !ok {
			continue
		}
		patients = append(patients, models.Patient{ID: e.ID, Profile: p})
	}
	return patients, nil
}

func (s *FileStore) Count(_ context.Context) (int, error) {
	s.galleryMu.RLock()
	defer s.galleryMu.RUnlock()

	table, err := s.encodings.Load()
	if err != nil {
		return 0, err
	}
	return len(table.entries), nil
}

// --- Record index ---

// Link appends filename to the patient's document list. Duplicates are kept.
func (s *FileStore) Link(ctx context.Context, patientID, filename string) ([]string, error) {
	ok, err := s.Exists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, models.ErrUnknownPatient)
	}

	var records []string
	err = s.mapping.Update(func(m *map[string][]string) error {
		if *m == nil {
			*m = make(map[string][]string)
		}
		(*m)[patientID] = append((*m)[patientID], filename)
		records = append([]string(nil), (*m)[patientID]...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("link record: %w", err)
	}
	return records, nil
}

// ListFor returns the patient's documents, or an empty list for unknown ids.
func (s *FileStore) ListFor(_ context.Context, patientID string) ([]string, error) {
	m, err := s.mapping.Load()
	if err != nil {
		return nil, err
	}
	records := m[patientID]
	if records == nil {
		return []string{}, nil
	}
	return records, nil
}

func (s *FileStore) AppendAudit(_ context.Context, entry models.AuditEntry) error {
	err := s.audit.Update(func(log *[]models.AuditEntry) error {
		*log = append(*log, entry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// Audit returns the audit log in append order, optionally filtered by patient.
func (s *FileStore) Audit(_ context.Context, patientID string) ([]models.AuditEntry, error) {
	log, err := s.audit.Load()
	if err != nil {
		return nil, err
	}
	entries := make([]models.AuditEntry, 0, len(log))
	for _, e := range log {
		if patientID != "" && e.PatientID != patientID {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func checkEncoding(encoding []float32) error {
	if len(encoding) == 0 {
		return fmt.Errorf("%w: empty vector", models.ErrInvalidEncoding)
	}
	for i, v := range encoding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite component at %d", models.ErrInvalidEncoding, i)
		}
	}
	return nil
}
