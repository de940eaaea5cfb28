package wristbands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-admission/internal/codec"
	"ms-admission/internal/config"
	"ms-admission/internal/logger"
	"ms-admission/internal/metrics"
	"ms-admission/internal/models"
	wristbanddb "ms-admission/internal/wristbands/db"
)

var (
	ErrWristbandNotFound = errors.New("wristband not found")
	ErrEventNotFound     = errors.New("event not found")
	ErrAlreadyRevoked    = errors.New("wristband is not active")
	ErrInvalidWristband  = errors.New("invalid wristband")
)

type WristbandDBLayer interface {
	GetEventInScope(ctx context.Context, eventID, scopeID string) (*models.Event, error)
	CreateWristband(ctx context.Context, w *models.Wristband) error
	GetWristbandInScope(ctx context.Context, id, scopeID string) (*models.Wristband, error)
	RecordScan(ctx context.Context, id, scopeID string, entry *models.WristbandScanLog) (*models.Wristband, error)
	AppendScanLog(ctx context.Context, entry *models.WristbandScanLog) error
	ListScanLogs(ctx context.Context, wristbandID string) ([]models.WristbandScanLog, error)
	Revoke(ctx context.Context, id string, now time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type WristbandService struct {
	DB        WristbandDBLayer
	Codec     *codec.Codec
	Publisher Publisher
	Topics    config.TopicConfig
	Logger    *logger.Logger
	Now       func() time.Time
}

func NewWristbandService(db WristbandDBLayer, c *codec.Codec, pub Publisher, topics config.TopicConfig, log *logger.Logger) *WristbandService {
	return &WristbandService{DB: db, Codec: c, Publisher: pub, Topics: topics, Logger: log, Now: time.Now}
}

func (s *WristbandService) now() time.Time {
	return s.Now().UTC()
}

// Validate checks a wristband code against its live record without
// spending a scan.
func (s *WristbandService) Validate(ctx context.Context, encryptedCode, scopeID string) models.ScanResult {
	start := time.Now()
	w, subject, code := s.validate(ctx, encryptedCode, scopeID, s.now())
	s.record(metrics.OpValidate, scopeID, subject, code, start)
	return scanResult(w, code)
}

// Scan validates the code and spends one scan. Rejections are logged to
// the wristband's scan history when the wristband is known.
func (s *WristbandService) Scan(ctx context.Context, encryptedCode, scopeID, location, device string) models.ScanResult {
	start := time.Now()
	now := s.now()
	w, subject, code := s.validate(ctx, encryptedCode, scopeID, now)
	if code == "" {
		w, code = s.spend(ctx, w, scopeID, location, device, now)
	}
	if code != "" && w != nil && code != models.CodeInternalError {
		entry := scanLog(w.ID, string(code), location, device, now)
		if err := s.DB.AppendScanLog(ctx, entry); err != nil {
			s.Logger.Error("ADMISSION", "scan log append failed for "+w.ID+": "+err.Error())
		}
	}
	s.record(metrics.OpCheckIn, scopeID, subject, code, start)
	return scanResult(w, code)
}

func (s *WristbandService) validate(ctx context.Context, encryptedCode, scopeID string, now time.Time) (*models.Wristband, string, models.ErrorCode) {
	if scopeID == "" {
		return nil, "-", models.CodeInvalidInput
	}
	payload, err := s.Codec.Decode(encryptedCode, codec.KindWristband)
	if err != nil {
		return nil, "-", codec.CodeOf(err)
	}

	w, err := s.DB.GetWristbandInScope(ctx, payload.WristbandID, scopeID)
	if errors.Is(err, wristbanddb.ErrNotFound) {
		return nil, payload.WristbandID, models.CodeWristbandNotFound
	}
	if err != nil {
		s.Logger.Error("ADMISSION", "wristband lookup failed for "+payload.WristbandID+": "+err.Error())
		return nil, payload.WristbandID, models.CodeInternalError
	}

	switch {
	case w.Status != models.WristbandActive || w.EventID != payload.EventID:
		return w, w.ID, models.CodeStatusInvalid
	case !w.WithinWindow(now):
		return w, w.ID, models.CodeOutOfValidityWindow
	case w.Exhausted():
		return w, w.ID, models.CodeScanLimitReached
	}
	return w, w.ID, ""
}

func (s *WristbandService) spend(ctx context.Context, w *models.Wristband, scopeID, location, device string, now time.Time) (*models.Wristband, models.ErrorCode) {
	updated, err := s.DB.RecordScan(ctx, w.ID, scopeID, scanLog(w.ID, models.ScanResultOK, location, device, now))
	if errors.Is(err, wristbanddb.ErrConflict) {
		// Lost the race for the last scan, or revoked in between.
		return w, models.CodeScanLimitReached
	}
	if err != nil {
		s.Logger.Error("ADMISSION", "scan write failed for "+w.ID+": "+err.Error())
		return w, models.CodeInternalError
	}
	if s.Publisher != nil && s.Topics.WristbandScanned != "" {
		msg := models.WristbandScannedMessage{
			WristbandID: updated.ID,
			EventID:     updated.EventID,
			ScopeID:     scopeID,
			ScanCount:   updated.ScanCount,
			ScannedAt:   now,
			Location:    location,
		}
		if err := s.Publisher.Publish(ctx, s.Topics.WristbandScanned, updated.ID, msg); err != nil {
			s.Logger.LogKafka("PUBLISH_FAILED", s.Topics.WristbandScanned, updated.ID+": "+err.Error())
		}
	}
	return updated, ""
}

func (s *WristbandService) record(op, scopeID, subject string, code models.ErrorCode, start time.Time) {
	metrics.TrackAdmission(metrics.KindWristband, op, string(code), time.Since(start))
	s.Logger.LogAdmission("wristband", scopeID, subject, string(code))
}

func scanLog(wristbandID, result, location, device string, at time.Time) *models.WristbandScanLog {
	return &models.WristbandScanLog{
		ID:          uuid.NewString(),
		WristbandID: wristbandID,
		ScannedAt:   at,
		Result:      result,
		Location:    location,
		Device:      device,
	}
}

func scanResult(w *models.Wristband, code models.ErrorCode) models.ScanResult {
	res := models.ScanResult{Valid: code == "", Code: code}
	if w != nil {
		snap := w.Snapshot()
		res.Wristband = &snap
	}
	return res
}

// IssueRequest describes a wristband to create.
type IssueRequest struct {
	EventID    string     `json:"eventId"`
	Name       string     `json:"name"`
	MaxScans   *int       `json:"maxScans,omitempty"`
	ValidFrom  *time.Time `json:"validFrom,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
}

// Issue creates a wristband for an event of scopeID and returns it with
// its encrypted code.
func (s *WristbandService) Issue(ctx context.Context, req IssueRequest, scopeID string) (*models.Wristband, string, error) {
	if req.Name == "" || req.EventID == "" {
		return nil, "", fmt.Errorf("eventId and name are required: %w", ErrInvalidWristband)
	}
	if req.MaxScans != nil && *req.MaxScans < 1 {
		return nil, "", fmt.Errorf("maxScans must be at least 1: %w", ErrInvalidWristband)
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		return nil, "", fmt.Errorf("validUntil must be after validFrom: %w", ErrInvalidWristband)
	}

	if _, err := s.DB.GetEventInScope(ctx, req.EventID, scopeID); err != nil {
		if errors.Is(err, wristbanddb.ErrNotFound) {
			return nil, "", fmt.Errorf("event %s: %w", req.EventID, ErrEventNotFound)
		}
		return nil, "", fmt.Errorf("load event %s: %w", req.EventID, err)
	}

	now := s.now()
	w := &models.Wristband{
		ID:         uuid.NewString(),
		EventID:    req.EventID,
		Name:       req.Name,
		MaxScans:   req.MaxScans,
		ValidFrom:  utc(req.ValidFrom),
		ValidUntil: utc(req.ValidUntil),
		Status:     models.WristbandActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	code, err := s.Codec.Encrypt(s.Codec.GenerateWristband(w.ID, w.EventID))
	if err != nil {
		return nil, "", fmt.Errorf("encrypt wristband code: %w", err)
	}
	w.EncryptedCode = &code
	if err := s.DB.CreateWristband(ctx, w); err != nil {
		return nil, "", fmt.Errorf("create wristband: %w", err)
	}
	s.Logger.Info("WRISTBAND", fmt.Sprintf("issued %s for event %s", w.ID, w.EventID))
	return w, code, nil
}

func (s *WristbandService) Revoke(ctx context.Context, id, scopeID string) error {
	if _, err := s.load(ctx, id, scopeID); err != nil {
		return err
	}
	if err := s.DB.Revoke(ctx, id, s.now()); err != nil {
		if errors.Is(err, wristbanddb.ErrConflict) {
			return fmt.Errorf("wristband %s: %w", id, ErrAlreadyRevoked)
		}
		return fmt.Errorf("revoke wristband %s: %w", id, err)
	}
	s.Logger.Info("WRISTBAND", "revoked "+id)
	return nil
}

// History lists every scan attempt of a wristband, oldest first.
func (s *WristbandService) History(ctx context.Context, id, scopeID string) ([]models.WristbandScanLog, error) {
	if _, err := s.load(ctx, id, scopeID); err != nil {
		return nil, err
	}
	logs, err := s.DB.ListScanLogs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list scans of %s: %w", id, err)
	}
	return logs, nil
}

func (s *WristbandService) load(ctx context.Context, id, scopeID string) (*models.Wristband, error) {
	w, err := s.DB.GetWristbandInScope(ctx, id, scopeID)
	if errors.Is(err, wristbanddb.ErrNotFound) {
		return nil, fmt.Errorf("wristband %s: %w", id, ErrWristbandNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load wristband %s: %w", id, err)
	}
	return w, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Second)
	return &v
}
