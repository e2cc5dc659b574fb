package service

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/casebook-api/internal/dto"
	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
	"github.com/noah-isme/casebook-api/pkg/jobs"
)

type attachmentStore interface {
	ListByCase(ctx context.Context, caseID string) ([]models.Attachment, error)
	GetByID(ctx context.Context, caseID, id string) (*models.Attachment, error)
	SaveCommit(ctx context.Context, commit models.AttachmentCommit) error
	ListChanges(ctx context.Context, caseID string) ([]models.AttachmentChange, error)
}

type attachmentFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type attachmentSignedURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

// AttachmentUpload carries one uploaded file and its declared metadata.
type AttachmentUpload struct {
	FileName string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// AttachmentDownload bundles an opened attachment for streaming.
type AttachmentDownload struct {
	File      *os.File
	FileName  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// AttachmentServiceConfig holds validation rules and URL settings.
type AttachmentServiceConfig struct {
	Rules     AttachmentRules
	APIPrefix string
}

type fileCleanupQueue interface {
	Enqueue(job jobs.Job) error
}

// AttachmentServiceOption configures optional collaborators.
type AttachmentServiceOption func(*AttachmentService)

// WithFileCleanupQueue hands orphaned blob removal to a background queue.
func WithFileCleanupQueue(queue fileCleanupQueue) AttachmentServiceOption {
	return func(s *AttachmentService) {
		s.cleanup = queue
	}
}

// AttachmentService stores case attachments. Each call loads the case's
// attachments into a fresh tracker, applies one command and commits the
// tracker's pending rows in a single transaction.
type AttachmentService struct {
	cases     amendmentCaseReader
	repo      attachmentStore
	storage   attachmentFileStorage
	signer    attachmentSignedURLSigner
	authority caseAuthority
	trail     *AuditTrailAppender
	metrics   *MetricsService
	logger    *zap.Logger
	cleanup   fileCleanupQueue
	cfg       AttachmentServiceConfig
}

// NewAttachmentService constructs the service with defaults.
func NewAttachmentService(cases amendmentCaseReader, repo attachmentStore, storage attachmentFileStorage, signer attachmentSignedURLSigner, authority caseAuthority, trail *AuditTrailAppender, metrics *MetricsService, logger *zap.Logger, cfg AttachmentServiceConfig, opts ...AttachmentServiceOption) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = NewAuditTrailAppender(nil, logger)
	}
	if cfg.Rules.MaxFileSize <= 0 {
		cfg.Rules.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.Rules.MaxFiles <= 0 {
		cfg.Rules.MaxFiles = 10
	}
	if len(cfg.Rules.AllowedMIMEs) == 0 {
		cfg.Rules.AllowedMIMEs = []string{"application/pdf", "image/jpeg", "image/png"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	svc := &AttachmentService{
		cases:     cases,
		repo:      repo,
		storage:   storage,
		signer:    signer,
		authority: authority,
		trail:     trail,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// List returns the attachments of a case. Deleted ones are included when
// includeDeleted is set.
func (s *AttachmentService) List(ctx context.Context, caseID string, includeDeleted bool, actor models.Actor) ([]models.Attachment, error) {
	tracker, err := s.open(ctx, caseID, actor, models.ActionViewCase)
	if err != nil {
		return nil, err
	}
	if !includeDeleted {
		return tracker.Active(), nil
	}
	return tracker.All(), nil
}

// Upload stores a batch of files on a case. Invalid files are reported back
// individually; the batch fails as a whole when it would exceed the case limit.
func (s *AttachmentService) Upload(ctx context.Context, caseID string, uploads []AttachmentUpload, actor models.Actor) (*dto.AttachmentResult, error) {
	tracker, err := s.open(ctx, caseID, actor, models.ActionManageAttachments)
	if err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one file is required")
	}

	var rejected []dto.AttachmentRejection
	files := make([]AttachmentFile, 0, len(uploads))
	var saved []string
	for _, upload := range uploads {
		file, err := s.inspect(upload)
		if err == nil {
			err = tracker.ValidateFile(file)
		}
		if err != nil {
			rejected = append(rejected, dto.AttachmentRejection{FileName: upload.FileName, Reason: appErrors.FromError(err).Message})
			continue
		}
		path, err := s.store(caseID, file, upload.Content)
		if err != nil {
			s.discard(saved)
			return nil, err
		}
		saved = append(saved, path)
		file.StoragePath = path
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no acceptable files supplied: "+joinRejections(rejected))
	}

	added, refused, err := tracker.Add(files, actor)
	if err != nil {
		s.discard(saved)
		return nil, err
	}
	for _, r := range refused {
		rejected = append(rejected, dto.AttachmentRejection{FileName: r.FileName, Reason: r.Reason})
	}
	if err := s.commit(ctx, tracker, actor, models.AuditActionAttachmentAdd); err != nil {
		return nil, err
	}
	return &dto.AttachmentResult{Attachments: added, Rejected: rejected, Changes: tracker.Changes()}, nil
}

// Remove deletes one attachment from the case. The stored blob is kept for
// lineage.
func (s *AttachmentService) Remove(ctx context.Context, caseID, attachmentID string, actor models.Actor) (*dto.AttachmentResult, error) {
	tracker, err := s.open(ctx, caseID, actor, models.ActionManageAttachments)
	if err != nil {
		return nil, err
	}
	if err := tracker.Remove(attachmentID, actor); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, tracker, actor, models.AuditActionAttachmentDelete); err != nil {
		return nil, err
	}
	return &dto.AttachmentResult{Attachments: tracker.Active(), Changes: tracker.Changes()}, nil
}

// Replace swaps an attachment for a new file.
func (s *AttachmentService) Replace(ctx context.Context, caseID, attachmentID string, upload AttachmentUpload, actor models.Actor) (*dto.AttachmentResult, error) {
	tracker, err := s.open(ctx, caseID, actor, models.ActionManageAttachments)
	if err != nil {
		return nil, err
	}
	if _, ok := tracker.Get(attachmentID); !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}
	file, err := s.inspect(upload)
	if err != nil {
		return nil, err
	}
	if err := tracker.ValidateFile(file); err != nil {
		return nil, err
	}
	path, err := s.store(caseID, file, upload.Content)
	if err != nil {
		return nil, err
	}
	file.StoragePath = path

	replacement, err := tracker.Replace(attachmentID, file, actor)
	if err != nil {
		s.discard([]string{path})
		return nil, err
	}
	if err := s.commit(ctx, tracker, actor, models.AuditActionAttachmentSwap); err != nil {
		return nil, err
	}
	return &dto.AttachmentResult{Attachments: []models.Attachment{replacement}, Changes: tracker.Changes()}, nil
}

// ClearAll removes every active attachment of the case.
func (s *AttachmentService) ClearAll(ctx context.Context, caseID string, actor models.Actor) (*dto.AttachmentResult, error) {
	tracker, err := s.open(ctx, caseID, actor, models.ActionManageAttachments)
	if err != nil {
		return nil, err
	}
	if tracker.ClearAll(actor) == 0 {
		return &dto.AttachmentResult{Attachments: []models.Attachment{}, Changes: []models.AttachmentChange{}}, nil
	}
	if err := s.commit(ctx, tracker, actor, models.AuditActionAttachmentDelete); err != nil {
		return nil, err
	}
	return &dto.AttachmentResult{Attachments: tracker.Active(), Changes: tracker.Changes()}, nil
}

// Lineage returns the attachment followed by the ones it replaced.
func (s *AttachmentService) Lineage(ctx context.Context, caseID, attachmentID string, actor models.Actor) ([]models.Attachment, error) {
	tracker, err := s.open(ctx, caseID, actor, models.ActionViewCase)
	if err != nil {
		return nil, err
	}
	chain := tracker.Lineage(attachmentID)
	if len(chain) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}
	return chain, nil
}

// Changes returns the stored attachment change log of a case.
func (s *AttachmentService) Changes(ctx context.Context, caseID string, actor models.Actor) ([]models.AttachmentChange, error) {
	if _, err := s.loadCase(ctx, caseID, actor, models.ActionViewCase); err != nil {
		return nil, err
	}
	changes, err := s.repo.ListChanges(ctx, caseID)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to list attachment changes")
	}
	return changes, nil
}

// DownloadURL signs a short-lived download link for an attachment.
func (s *AttachmentService) DownloadURL(ctx context.Context, caseID, attachmentID string, actor models.Actor) (*dto.AttachmentDownloadResponse, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	att, err := s.attachment(ctx, caseID, attachmentID, actor)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(att.ID, att.StoragePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return &dto.AttachmentDownloadResponse{
		Attachment:  *att,
		DownloadURL: fmt.Sprintf("%s/cases/%s/attachments/%s/download?token=%s", base, caseID, att.ID, token),
		ExpiresAt:   expiresAt,
	}, nil
}

// Download validates a signed token and opens the attachment blob.
func (s *AttachmentService) Download(ctx context.Context, caseID, attachmentID, token string, actor models.Actor) (*AttachmentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	att, err := s.attachment(ctx, caseID, attachmentID, actor)
	if err != nil {
		return nil, err
	}
	id, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrAuthorizationDenied, "invalid or expired token")
	}
	if id != att.ID || relPath != att.StoragePath {
		return nil, appErrors.Clone(appErrors.ErrAuthorizationDenied, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment")
	}
	return &AttachmentDownload{
		File:      file,
		FileName:  att.FileName,
		MimeType:  att.MimeType,
		SizeBytes: att.SizeBytes,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *AttachmentService) attachment(ctx context.Context, caseID, attachmentID string, actor models.Actor) (*models.Attachment, error) {
	if _, err := s.loadCase(ctx, caseID, actor, models.ActionViewCase); err != nil {
		return nil, err
	}
	att, err := s.repo.GetByID(ctx, caseID, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, appErrors.Persistence(err, "failed to load attachment")
	}
	return att, nil
}

func (s *AttachmentService) loadCase(ctx context.Context, caseID string, actor models.Actor, action models.Action) (*models.Case, error) {
	if err := requireAction(s.authority, actor, action); err != nil {
		return nil, err
	}
	if strings.TrimSpace(caseID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "case id is required")
	}
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Persistence(err, "failed to load case")
	}
	if !actorInScope(s.authority, actor, c.Country) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
	}
	return c, nil
}

// open authorizes the actor and seeds a tracker with the case's attachments.
func (s *AttachmentService) open(ctx context.Context, caseID string, actor models.Actor, action models.Action) (*AttachmentVersionTracker, error) {
	c, err := s.loadCase(ctx, caseID, actor, action)
	if err != nil {
		return nil, err
	}
	stored, err := s.repo.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to load attachments")
	}
	return NewAttachmentVersionTracker(c.ID, stored, s.cfg.Rules, s.trail), nil
}

func (s *AttachmentService) commit(ctx context.Context, tracker *AttachmentVersionTracker, actor models.Actor, action string) error {
	commit := tracker.Pending()
	if err := s.repo.SaveCommit(ctx, commit); err != nil {
		s.discard(tracker.SessionFiles())
		return appErrors.Persistence(err, "failed to save attachments")
	}
	s.metrics.RecordAttachmentChanges(commit.Changes)
	s.trail.Record(ctx, action, "case", commit.CaseID, actor, nil, commit.Changes)
	s.logger.Info("case attachments changed",
		zap.String("case_id", commit.CaseID),
		zap.Int("changes", len(commit.Changes)),
		zap.String("actor", actor.UserID))
	return nil
}

// inspect resolves the MIME type and content digest of an upload.
func (s *AttachmentService) inspect(upload AttachmentUpload) (AttachmentFile, error) {
	file := AttachmentFile{FileName: strings.TrimSpace(upload.FileName), MimeType: upload.MimeType}
	if file.FileName != "" {
		file.FileName = filepath.Base(file.FileName)
	}
	if upload.Content == nil {
		return file, appErrors.Clone(appErrors.ErrValidation, "file reader missing")
	}
	if upload.Size > s.cfg.Rules.MaxFileSize {
		return file, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.Rules.MaxFileSize))
	}
	if file.MimeType == "" || file.MimeType == "application/octet-stream" {
		detected, err := mimetype.DetectReader(upload.Content)
		if err != nil {
			return file, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
		}
		file.MimeType = detected.String()
	}
	if idx := strings.Index(file.MimeType, ";"); idx >= 0 {
		file.MimeType = strings.TrimSpace(file.MimeType[:idx])
	}

	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return file, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	digest, err := blake2b.New256(nil)
	if err != nil {
		return file, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash file")
	}
	n, err := io.Copy(digest, upload.Content)
	if err != nil {
		return file, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash file")
	}
	file.SizeBytes = n
	file.Checksum = hex.EncodeToString(digest.Sum(nil))
	return file, nil
}

func (s *AttachmentService) store(caseID string, file AttachmentFile, content io.ReadSeeker) (string, error) {
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	name := fmt.Sprintf("cases/%s/%s-%s", sanitizePathSegment(caseID), s.trail.NewID(), sanitizeFileName(file.FileName))
	path, err := s.storage.SaveStream(name, content)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}
	return path, nil
}

func (s *AttachmentService) discard(paths []string) {
	for _, path := range paths {
		if s.cleanup != nil {
			err := s.cleanup.Enqueue(jobs.Job{ID: s.trail.NewID(), Type: AttachmentCleanupJob, Payload: path})
			if err == nil {
				continue
			}
			s.logger.Warn("cleanup queue rejected orphaned attachment, removing inline", zap.String("path", path), zap.Error(err))
		}
		if err := s.storage.Delete(path); err != nil {
			s.logger.Warn("failed to remove orphaned attachment", zap.String("path", path), zap.Error(err))
		}
	}
}

// AttachmentCleanupJob is the job type for orphaned blob removal.
const AttachmentCleanupJob = "attachment-cleanup"

// NewAttachmentCleanupHandler removes the blob named by the job payload.
func NewAttachmentCleanupHandler(storage attachmentFileStorage) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		return storage.Delete(job.Payload)
	}
}

func joinRejections(rejected []dto.AttachmentRejection) string {
	parts := make([]string, 0, len(rejected))
	for _, r := range rejected {
		parts = append(parts, r.FileName+": "+r.Reason)
	}
	return strings.Join(parts, "; ")
}

func sanitizePathSegment(raw string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(raw)
}

func sanitizeFileName(raw string) string {
	ext := strings.ToLower(filepath.Ext(raw))
	base := strings.ToLower(strings.TrimSuffix(raw, filepath.Ext(raw)))
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "file"
	}
	return name + ext
}
