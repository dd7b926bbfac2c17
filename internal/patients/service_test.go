package patients

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/medface/internal/matcher"
	"github.com/your-org/medface/internal/models"
	"github.com/your-org/medface/internal/storage"
)

// faces maps image payloads to the encodings the fake encoder returns.
type faces map[string][][]float32

func (f faces) Encode(image []byte) ([][]float32, error) {
	enc, ok := f[string(image)]
	if !ok {
		return nil, errors.New("undecodable image")
	}
	return enc, nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Notify(_ context.Context, evt models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc        *Service
	store      *storage.FileStore
	blobs      *storage.DiskStore
	events     *recorder
	dataDir    string
	uploadsDir string
}

var (
	annFace = []float32{0, 0, 0}
	bobFace = []float32{1, 1, 1}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir, uploadsDir := t.TempDir(), t.TempDir()
	store, err := storage.NewFileStore(dataDir)
	require.NoError(t, err)
	blobs, err := storage.NewDiskStore(uploadsDir)
	require.NoError(t, err)

	enc := faces{
		"ann":       {annFace},
		"ann-again": {{0.1, 0.1, 0.1}},
		"bob":       {bobFace},
		"stranger":  {{5, 5, 5}},
		"crowd":     {annFace, bobFace},
		"empty":     {},
		"short":     {{0, 0}},
	}
	events := &recorder{}
	svc := NewService(store, blobs, matcher.New(0.5, matcher.FirstMatch, 3),
		WithEncoder(enc), WithNotifier(events))
	return &fixture{svc: svc, store: store, blobs: blobs, events: events, dataDir: dataDir, uploadsDir: uploadsDir}
}

func (f *fixture) register(t *testing.T, name, image string) string {
	t.Helper()
	p, err := f.svc.Register(context.Background(), models.Profile{Name: name, Age: 30, BloodGroup: "A+"}, []byte(image), image+".jpg")
	require.NoError(t, err)
	return p.ID
}

func TestService_RegisterThenRecognize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	annID := f.register(t, "Ann", "ann")
	bobID := f.register(t, "Bob", "bob")
	assert.NotEqual(t, annID, bobID)

	rec, err := f.svc.Recognize(ctx, []byte("ann-again"))
	require.NoError(t, err)
	assert.Equal(t, annID, rec.Patient.ID)
	assert.Equal(t, "Ann", rec.Patient.Profile.Name)
	assert.InDelta(t, 0.1732, rec.Distance, 1e-3)

	rec, err = f.svc.Recognize(ctx, []byte("bob"))
	require.NoError(t, err)
	assert.Equal(t, bobID, rec.Patient.ID)
	assert.Zero(t, rec.Distance)

	assert.Equal(t, []string{
		models.EventPatientRegistered,
		models.EventPatientRegistered,
		models.EventPatientRecognized,
		models.EventPatientRecognized,
	}, f.events.types())
}

func TestService_RecognizeNoMatch(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Ann", "ann")

	_, err := f.svc.Recognize(context.Background(), []byte("stranger"))
	assert.ErrorIs(t, err, models.ErrNoMatch)
	assert.Contains(t, f.events.types(), models.EventRecognitionMissed)
}

func TestService_RecognizeEmptyGallery(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Recognize(context.Background(), []byte("ann"))
	assert.ErrorIs(t, err, models.ErrNoMatch)
}

func TestService_FaceCountRejected(t *testing.T) {
	for _, image := range []string{"crowd", "empty"} {
		t.Run(image, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.svc.Register(ctx, models.Profile{Name: "X", Age: 1}, []byte(image), "x.jpg")
			assert.ErrorIs(t, err, models.ErrAmbiguousOrMissingFace)

			count, err := f.store.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)

			_, err = f.svc.Recognize(ctx, []byte(image))
			assert.ErrorIs(t, err, models.ErrAmbiguousOrMissingFace)

			for _, dir := range []string{f.dataDir, f.uploadsDir} {
				entries, err := os.ReadDir(dir)
				require.NoError(t, err)
				assert.Empty(t, entries, "nothing may be written to %s", dir)
			}
			assert.Empty(t, f.events.types())
		})
	}
}

func TestService_RecognizeSkipsEntryWithoutProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orphan := f.register(t, "Ann", "ann")
	// Drop every profile so Ann's encoding is left behind on its own.
	require.NoError(t, os.WriteFile(filepath.Join(f.dataDir, storage.PatientsFile), []byte("{}"), 0o644))

	_, err := f.svc.Recognize(ctx, []byte("ann"))
	assert.ErrorIs(t, err, models.ErrNoMatch)

	second := f.register(t, "Ann B", "ann-again")
	rec, err := f.svc.Recognize(ctx, []byte("ann"))
	require.NoError(t, err)
	assert.Equal(t, second, rec.Patient.ID)
	assert.NotEqual(t, orphan, rec.Patient.ID)
	assert.Equal(t, "Ann B", rec.Patient.Profile.Name)
	assert.InDelta(t, 0.1732, rec.Distance, 1e-3)
}

func TestService_RegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, models.Profile{Name: " ", Age: 3}, []byte("ann"), "a.jpg")
	assert.ErrorIs(t, err, models.ErrInvalidProfile)

	_, err = f.svc.Register(ctx, models.Profile{Name: "Ann", Age: 3}, []byte("short"), "a.jpg")
	assert.ErrorIs(t, err, models.ErrInvalidEncoding)

	_, err = f.svc.Register(ctx, models.Profile{Name: "Ann", Age: 3}, []byte("garbage"), "a.jpg")
	assert.Error(t, err)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_NoEncoder(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := NewService(store, nil, matcher.New(0.5, matcher.FirstMatch, 3))

	_, err = svc.Register(context.Background(), models.Profile{Name: "Ann"}, []byte("ann"), "a.jpg")
	assert.ErrorIs(t, err, ErrEncoderUnavailable)
	_, err = svc.Recognize(context.Background(), []byte("ann"))
	assert.ErrorIs(t, err, ErrEncoderUnavailable)
}

func TestService_UploadRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "Ann", "ann")

	name, records, err := f.svc.UploadRecord(ctx, Upload{
		PatientID: id, Filename: "../../etc/scan.pdf", Role: "doctor", Data: []byte("pdf-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", name)
	assert.Equal(t, []string{"scan.pdf"}, records)

	_, records, err = f.svc.UploadRecord(ctx, Upload{
		PatientID: id, Filename: "scan.pdf", Role: "nurse", Data: []byte("pdf-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"scan.pdf", "scan.pdf"}, records)

	data, err := f.svc.OpenRecord(ctx, id, "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf-2"), data)

	listed, err := f.svc.Records(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, records, listed)

	audit, err := f.svc.AuditLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []models.AuditEntry{
		{PatientID: id, Action: models.ActionUpload, File: "scan.pdf", Role: "doctor"},
		{PatientID: id, Action: models.ActionUpload, File: "scan.pdf", Role: "nurse"},
	}, audit)
}

func TestService_UploadRecordUnknownPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.UploadRecord(ctx, Upload{
		PatientID: "ghost", Filename: "x.pdf", Role: "doctor", Data: []byte("x"),
	})
	assert.ErrorIs(t, err, models.ErrUnknownPatient)

	audit, err := f.svc.AuditLog(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, []models.AuditEntry{
		{PatientID: "ghost", Action: models.ActionUploadRejected, File: "x.pdf", Role: "doctor"},
	}, audit)

	_, err = f.blobs.Get(ctx, "records/ghost/x.pdf")
	assert.ErrorIs(t, err, models.ErrNotFound)

	records, err := f.svc.Records(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)
}

func TestService_UploadRecordInvalidFilenameAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.UploadRecord(ctx, Upload{
		PatientID: "ghost", Filename: "..", Role: "nurse", Data: []byte("x"),
	})
	assert.ErrorIs(t, err, models.ErrInvalidFilename)

	audit, err := f.svc.AuditLog(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, []models.AuditEntry{
		{PatientID: "ghost", Action: models.ActionUploadRejected, File: "..", Role: "nurse"},
	}, audit)

	entries, err := os.ReadDir(f.uploadsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_OpenRecordNotLinked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "Ann", "ann")

	_, err := f.svc.OpenRecord(ctx, id, "missing.pdf")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.OpenRecord(ctx, id, "../"+id+"/x.pdf")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "report.pdf", want: "report.pdf"},
		{in: "a/b/c.txt", want: "c.txt"},
		{in: `C:\scans\x-ray.png`, want: "x-ray.png"},
		{in: "", wantErr: true},
		{in: "..", wantErr: true},
		{in: "/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeFilename(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidFilename)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
