// Package patients links face images to patient identities and their
// uploaded medical documents.
//
// Registration and recognition both require an image with exactly one
// detectable face; anything else is rejected with
// models.ErrAmbiguousOrMissingFace before any table is touched.
package patients

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/medface/internal/matcher"
	"github.com/your-org/medface/internal/models"
	"github.com/your-org/medface/internal/observability"
)

// ErrEncoderUnavailable is returned by face operations when no encoder is configured.
var ErrEncoderUnavailable = errors.New("face encoder not initialized")

// Encoder converts image bytes into one encoding per detected face.
type Encoder interface {
	Encode(imageData []byte) ([][]float32, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(imageData []byte) ([][]float32, error)

func (f EncoderFunc) Encode(imageData []byte) ([][]float32, error) { return f(imageData) }

// Gallery is the identity store: profiles plus one reference encoding each.
type Gallery interface {
	Register(ctx context.Context, profile models.Profile, encoding []float32) (string, error)
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	Exists(ctx context.Context, id string) (bool, error)
	Entries(ctx context.Context) iter.Seq2[models.GalleryEntry, error]
	ListPatients(ctx context.Context) ([]models.Patient, error)
}

// RecordIndex maps patients to document names and keeps the upload audit trail.
type RecordIndex interface {
	Link(ctx context.Context, patientID, filename string) ([]string, error)
	ListFor(ctx context.Context, patientID string) ([]string, error)
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
	Audit(ctx context.Context, patientID string) ([]models.AuditEntry, error)
}

// Store is a backend serving both the gallery and the record index.
type Store interface {
	Gallery
	RecordIndex
}

// Blobs stores document and face image bytes.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Notifier receives activity events after an operation completes.
type Notifier interface {
	Notify(ctx context.Context, evt models.Event)
}

type Service struct {
	store    Store
	blobs    Blobs
	matcher  *matcher.Matcher
	encoder  Encoder
	notifier Notifier
	now      func() time.Time
}

type Option func(*Service)

// WithEncoder sets the face encoder. Without one, Register and Recognize fail
// with ErrEncoderUnavailable.
func WithEncoder(enc Encoder) Option {
	return func(s *Service) { s.encoder = enc }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(store Store, blobs Blobs, m *matcher.Matcher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		blobs:   blobs,
		matcher: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recognition is the outcome of a successful match.
type Recognition struct {
	Patient  models.Patient
	Distance float64
}

// Upload describes one document uploaded for a patient.
type Upload struct {
	PatientID   string
	Filename    string
	Role        string
	ContentType string
	Data        []byte
}

// singleFace encodes image and enforces the exactly-one-face rule.
func (s *Service) singleFace(image []byte, operation string) ([]float32, error) {
	if s.encoder == nil {
		return nil, ErrEncoderUnavailable
	}
	encodings, err := s.encoder.Encode(image)
	if err != nil {
		return nil, fmt.Errorf("encode face: %w", err)
	}
	if len(encodings) != 1 {
		observability.FaceRejections.WithLabelValues(operation).Inc()
		return nil, fmt.Errorf("%w: found %d", models.ErrAmbiguousOrMissingFace, len(encodings))
	}
	return encodings[0], nil
}

func (s *Service) checkDimension(encoding []float32) error {
	if dim := s.matcher.Dimension; dim > 0 && len(encoding) != dim {
		return fmt.Errorf("%w: expected %d components, got %d", models.ErrInvalidEncoding, dim, len(encoding))
	}
	return nil
}

// Register creates a patient from a profile and a single-face image.
// The image is archived alongside the record blobs when registration succeeds.
func (s *Service) Register(ctx context.Context, profile models.Profile, image []byte, imageName string) (models.Patient, error) {
	if err := profile.Validate(); err != nil {
		return models.Patient{}, err
	}
	encoding, err := s.singleFace(image, "register")
	if err != nil {
		return models.Patient{}, err
	}
	if err := s.checkDimension(encoding); err != nil {
		return models.Patient{}, err
	}

	id, err := s.store.Register(ctx, profile, encoding)
	if err != nil {
		return models.Patient{}, fmt.Errorf("register patient: %w", err)
	}
	observability.PatientsRegistered.Inc()
	slog.Info("patient registered", "patient_id", id)

	if s.blobs != nil {
		key := faceKey(id, imageName)
		if err := s.blobs.Put(ctx, key, image, "image/jpeg"); err != nil {
			slog.Warn("archive face image", "patient_id", id, "error", err)
		}
	}

	s.notify(ctx, models.Event{Type: models.EventPatientRegistered, PatientID: id})
	return models.Patient{ID: id, Profile: profile, CreatedAt: s.now().UTC()}, nil
}

// Recognize matches a single-face image against the gallery.
// It returns models.ErrNoMatch when no registered face is within tolerance.
func (s *Service) Recognize(ctx context.Context, image []byte) (Recognition, error) {
	encoding, err := s.singleFace(image, "recognize")
	if err != nil {
		observability.Recognitions.WithLabelValues("rejected").Inc()
		return Recognition{}, err
	}

	res, profile, err := s.matchProfiled(ctx, encoding)
	if err != nil {
		if errors.Is(err, models.ErrNoMatch) {
			observability.Recognitions.WithLabelValues("no_match").Inc()
			s.notify(ctx, models.Event{Type: models.EventRecognitionMissed})
		} else {
			observability.Recognitions.WithLabelValues("error").Inc()
		}
		return Recognition{}, err
	}
	observability.Recognitions.WithLabelValues("matched").Inc()

	distance := res.Distance
	s.notify(ctx, models.Event{Type: models.EventPatientRecognized, PatientID: res.PatientID, Distance: &distance})
	return Recognition{
		Patient:  models.Patient{ID: res.PatientID, Profile: profile},
		Distance: res.Distance,
	}, nil
}

// matchProfiled runs the matcher until it lands on an entry that still has a
// profile. An encoding without a profile should never exist; such entries are
// logged and excluded from the rest of the scan instead of failing the lookup.
func (s *Service) matchProfiled(ctx context.Context, encoding []float32) (matcher.Result, models.Profile, error) {
	orphans := map[string]bool{}
	for {
		res, err := s.matcher.Match(ctx, excluding{gallery: s.store, ids: orphans}, encoding)
		observability.GalleryScanned.Observe(float64(res.Scanned))
		if err != nil {
			return matcher.Result{}, models.Profile{}, err
		}

		profile, err := s.store.GetProfile(ctx, res.PatientID)
		if err == nil {
			return res, profile, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return matcher.Result{}, models.Profile{}, fmt.Errorf("load matched profile: %w", err)
		}
		slog.Error("gallery entry without profile, skipping", "patient_id", res.PatientID)
		orphans[res.PatientID] = true
	}
}

// excluding hides a set of ids from a gallery enumeration.
type excluding struct {
	gallery matcher.Gallery
	ids     map[string]bool
}

func (g excluding) Entries(ctx context.Context) iter.Seq2[models.GalleryEntry, error] {
	return func(yield func(models.GalleryEntry, error) bool) {
		for entry, err := range g.gallery.Entries(ctx) {
			if err == nil && g.ids[entry.ID] {
				continue
			}
			if !yield(entry, err) {
				return
			}
		}
	}
}

func (s *Service) Profile(ctx context.Context, id string) (models.Profile, error) {
	return s.store.GetProfile(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context) ([]models.Patient, error) {
	return s.store.ListPatients(ctx)
}

// UploadRecord stores a document for an existing patient and links it.
// Every attempt is audited, including those rejected for an unknown patient
// or an unusable filename. Returns the stored filename and the patient's full
// document list.
func (s *Service) UploadRecord(ctx context.Context, up Upload) (string, []string, error) {
	filename, err := SanitizeFilename(up.Filename)
	if err != nil {
		s.audit(ctx, models.AuditEntry{PatientID: up.PatientID, Action: models.ActionUploadRejected, File: up.Filename, Role: up.Role})
		observability.RecordUploads.WithLabelValues("invalid_filename").Inc()
		return "", nil, err
	}

	exists, err := s.store.Exists(ctx, up.PatientID)
	if err != nil {
		return "", nil, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		s.audit(ctx, models.AuditEntry{PatientID: up.PatientID, Action: models.ActionUploadRejected, File: filename, Role: up.Role})
		observability.RecordUploads.WithLabelValues("unknown_patient").Inc()
		s.notify(ctx, models.Event{Type: models.EventUploadRejected, PatientID: up.PatientID, File: filename, Role: up.Role})
		return "", nil, fmt.Errorf("patient %s: %w", up.PatientID, models.ErrUnknownPatient)
	}

	if err := s.blobs.Put(ctx, recordKey(up.PatientID, filename), up.Data, up.ContentType); err != nil {
		observability.RecordUploads.WithLabelValues("error").Inc()
		return "", nil, fmt.Errorf("store document: %w", err)
	}

	records, err := s.store.Link(ctx, up.PatientID, filename)
	if err != nil {
		observability.RecordUploads.WithLabelValues("error").Inc()
		return "", nil, fmt.Errorf("link document: %w", err)
	}

	s.audit(ctx, models.AuditEntry{PatientID: up.PatientID, Action: models.ActionUpload, File: filename, Role: up.Role})
	observability.RecordUploads.WithLabelValues("stored").Inc()
	slog.Info("record uploaded", "patient_id", up.PatientID, "file", filename, "role", up.Role)
	s.notify(ctx, models.Event{Type: models.EventRecordUploaded, PatientID: up.PatientID, File: filename, Role: up.Role})

	return filename, records, nil
}

// Records lists a patient's documents; unknown ids yield an empty list.
func (s *Service) Records(ctx context.Context, patientID string) ([]string, error) {
	return s.store.ListFor(ctx, patientID)
}

// OpenRecord returns the bytes of a document previously linked to the patient.
func (s *Service) OpenRecord(ctx context.Context, patientID, filename string) ([]byte, error) {
	name, err := SanitizeFilename(filename)
	if err != nil || name != filename {
		return nil, fmt.Errorf("record %q: %w", filename, models.ErrNotFound)
	}

	records, err := s.store.ListFor(ctx, patientID)
	if err != nil {
		return nil, err
	}
	linked := false
	for _, r := range records {
		if r == name {
			linked = true
			break
		}
	}
	if !linked {
		return nil, fmt.Errorf("record %q: %w", filename, models.ErrNotFound)
	}
	return s.blobs.Get(ctx, recordKey(patientID, name))
}

func (s *Service) AuditLog(ctx context.Context, patientID string) ([]models.AuditEntry, error) {
	return s.store.Audit(ctx, patientID)
}

// audit appends to the audit trail. A failed audit write is logged, not
// returned, so it never masks the outcome of the upload itself.
func (s *Service) audit(ctx context.Context, entry models.AuditEntry) {
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		slog.Error("append audit", "patient_id", entry.PatientID, "action", entry.Action, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, evt models.Event) {
	if s.notifier == nil {
		return
	}
	evt.Timestamp = s.now().UTC()
	s.notifier.Notify(ctx, evt)
}

// SanitizeFilename strips directories from an uploaded file name and rejects
// names that cannot be stored.
func SanitizeFilename(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidFilename, name)
	}
	return base, nil
}

func recordKey(patientID, filename string) string {
	return path.Join("records", patientID, filename)
}

func faceKey(patientID, imageName string) string {
	name, err := SanitizeFilename(imageName)
	if err != nil {
		name = "face.jpg"
	}
	return path.Join("faces", patientID, uuid.New().String()+"_"+name)
}
