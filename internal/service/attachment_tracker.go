package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

// AttachmentRules bounds what a case may carry.
type AttachmentRules struct {
	MaxFiles     int
	MaxFileSize  int64
	AllowedMIMEs []string
}

// AttachmentFile is a validated candidate upload.
type AttachmentFile struct {
	FileName    string
	MimeType    string
	SizeBytes   int64
	Checksum    string
	StoragePath string
}

// FileRejection explains why one file of a batch was refused.
type FileRejection struct {
	FileName string `json:"fileName"`
	Reason   string `json:"reason"`
}

// AttachmentVersionTracker holds the attachment set of one case for one
// editing session. Snapshots are appended to an arena and never rewritten;
// latest maps each identity to its newest snapshot. New marks identities
// created in this session, Existing ones were loaded from the store.
type AttachmentVersionTracker struct {
	caseID  string
	rules   AttachmentRules
	mimes   map[string]struct{}
	trail   *AuditTrailAppender
	arena   []models.Attachment
	latest  map[string]int
	order   []string
	loaded  map[string]struct{}
	changes []models.AttachmentChange
}

// NewAttachmentVersionTracker seeds a tracker with the stored attachments of
// a case, deleted ones included so lineage stays walkable.
func NewAttachmentVersionTracker(caseID string, stored []models.Attachment, rules AttachmentRules, trail *AuditTrailAppender) *AttachmentVersionTracker {
	if trail == nil {
		trail = NewAuditTrailAppender(nil, nil)
	}
	t := &AttachmentVersionTracker{
		caseID: caseID,
		rules:  rules,
		mimes:  make(map[string]struct{}, len(rules.AllowedMIMEs)),
		trail:  trail,
		latest: make(map[string]int, len(stored)),
		loaded: make(map[string]struct{}, len(stored)),
	}
	for _, mime := range rules.AllowedMIMEs {
		t.mimes[strings.ToLower(strings.TrimSpace(mime))] = struct{}{}
	}
	for _, att := range stored {
		if att.State == models.AttachmentStateNew {
			att.State = models.AttachmentStateExisting
		}
		t.loaded[att.ID] = struct{}{}
		t.push(att)
	}
	return t
}

func (t *AttachmentVersionTracker) push(att models.Attachment) {
	if _, seen := t.latest[att.ID]; !seen {
		t.order = append(t.order, att.ID)
	}
	t.arena = append(t.arena, att)
	t.latest[att.ID] = len(t.arena) - 1
}

func (t *AttachmentVersionTracker) current(id string) (models.Attachment, bool) {
	idx, ok := t.latest[id]
	if !ok {
		return models.Attachment{}, false
	}
	return t.arena[idx], true
}

// Get returns the newest snapshot of an attachment.
func (t *AttachmentVersionTracker) Get(id string) (models.Attachment, bool) {
	return t.current(id)
}

// Active lists attachments currently visible on the case, in insertion order.
func (t *AttachmentVersionTracker) Active() []models.Attachment {
	active := make([]models.Attachment, 0, len(t.order))
	for _, id := range t.order {
		if att, ok := t.current(id); ok && att.Active() {
			active = append(active, att)
		}
	}
	return active
}

// All lists the newest snapshot of every identity, deleted ones included.
func (t *AttachmentVersionTracker) All() []models.Attachment {
	all := make([]models.Attachment, 0, len(t.order))
	for _, id := range t.order {
		if att, ok := t.current(id); ok {
			all = append(all, att)
		}
	}
	return all
}

// Changes returns the change log accumulated in this session.
func (t *AttachmentVersionTracker) Changes() []models.AttachmentChange {
	out := make([]models.AttachmentChange, len(t.changes))
	copy(out, t.changes)
	return out
}

// Versions returns every snapshot recorded for one identity, oldest first.
func (t *AttachmentVersionTracker) Versions(id string) []models.Attachment {
	var versions []models.Attachment
	for _, att := range t.arena {
		if att.ID == id {
			versions = append(versions, att)
		}
	}
	return versions
}

// Lineage walks OriginalRef back from id: the attachment first, then the one
// it replaced, and so on.
func (t *AttachmentVersionTracker) Lineage(id string) []models.Attachment {
	var chain []models.Attachment
	seen := make(map[string]struct{})
	for next := id; next != ""; {
		if _, loop := seen[next]; loop {
			break
		}
		seen[next] = struct{}{}
		att, ok := t.current(next)
		if !ok {
			break
		}
		chain = append(chain, att)
		next = ""
		if att.OriginalRef != nil {
			next = *att.OriginalRef
		}
	}
	return chain
}

// ValidateFile checks one candidate against the size and MIME rules.
func (t *AttachmentVersionTracker) ValidateFile(file AttachmentFile) error {
	name := strings.TrimSpace(file.FileName)
	if name == "" || filepath.Base(name) != name {
		return appErrors.Clone(appErrors.ErrValidation, "file name is invalid")
	}
	if file.SizeBytes <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	if t.rules.MaxFileSize > 0 && file.SizeBytes > t.rules.MaxFileSize {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", t.rules.MaxFileSize))
	}
	if len(t.mimes) > 0 {
		if _, ok := t.mimes[strings.ToLower(file.MimeType)]; !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %s is not allowed", file.MimeType))
		}
	}
	return nil
}

// Add appends new attachments. Files failing validation are returned as
// rejections; if the remaining files would push the case over MaxFiles the
// whole call is refused and nothing changes.
func (t *AttachmentVersionTracker) Add(files []AttachmentFile, actor models.Actor) ([]models.Attachment, []FileRejection, error) {
	accepted := make([]AttachmentFile, 0, len(files))
	var rejected []FileRejection
	for _, file := range files {
		if err := t.ValidateFile(file); err != nil {
			rejected = append(rejected, FileRejection{FileName: file.FileName, Reason: appErrors.FromError(err).Message})
			continue
		}
		accepted = append(accepted, file)
	}
	if len(accepted) == 0 {
		return nil, rejected, appErrors.Clone(appErrors.ErrValidation, "no acceptable files supplied")
	}
	if t.rules.MaxFiles > 0 && len(t.Active())+len(accepted) > t.rules.MaxFiles {
		return nil, rejected, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("a case may carry at most %d attachments", t.rules.MaxFiles))
	}

	added := make([]models.Attachment, 0, len(accepted))
	for _, file := range accepted {
		att := t.newAttachment(file, actor)
		t.push(att)
		t.changes = append(t.changes, t.trail.AttachmentChange(t.caseID, att.ID, models.AttachmentChangeAdd, att.FileName, nil, actor))
		added = append(added, att)
	}
	return added, rejected, nil
}

func (t *AttachmentVersionTracker) newAttachment(file AttachmentFile, actor models.Actor) models.Attachment {
	return models.Attachment{
		ID:          t.trail.NewID(),
		CaseID:      t.caseID,
		FileName:    strings.TrimSpace(file.FileName),
		MimeType:    file.MimeType,
		SizeBytes:   file.SizeBytes,
		Checksum:    file.Checksum,
		StoragePath: file.StoragePath,
		State:       models.AttachmentStateNew,
		UploadedBy:  actor.UserID,
		UploadedAt:  t.trail.Now(),
	}
}

func (t *AttachmentVersionTracker) markDeleted(att models.Attachment) models.Attachment {
	deletedAt := t.trail.Now()
	att.State = models.AttachmentStateDeleted
	att.DeletedAt = &deletedAt
	t.push(att)
	return att
}

// Remove takes an attachment off the case. An attachment added in this
// session is purged together with its add change; a stored one is marked
// deleted and a delete change is logged.
func (t *AttachmentVersionTracker) Remove(id string, actor models.Actor) error {
	att, ok := t.current(id)
	if !ok || !att.Active() {
		return appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}
	if att.State == models.AttachmentStateNew {
		t.purge(att, actor)
		return nil
	}
	t.markDeleted(att)
	t.changes = append(t.changes, t.trail.AttachmentChange(t.caseID, att.ID, models.AttachmentChangeDelete, att.FileName, nil, actor))
	return nil
}

// purge drops a session-local attachment as if it was never added. When it
// was itself a replacement, the replace change collapses into a delete of a
// stored original, or the session-local original is purged as well.
func (t *AttachmentVersionTracker) purge(att models.Attachment, actor models.Actor) {
	kept := t.arena[:0:0]
	for _, snap := range t.arena {
		if snap.ID != att.ID {
			kept = append(kept, snap)
		}
	}
	t.arena = kept
	delete(t.latest, att.ID)
	for i, snap := range t.arena {
		t.latest[snap.ID] = i
	}
	order := t.order[:0:0]
	for _, id := range t.order {
		if id != att.ID {
			order = append(order, id)
		}
	}
	t.order = order

	var sessionOriginal *models.Attachment
	changes := t.changes[:0:0]
	for _, change := range t.changes {
		if change.AttachmentID != att.ID {
			changes = append(changes, change)
			continue
		}
		if change.Type != models.AttachmentChangeReplace || att.OriginalRef == nil {
			continue
		}
		if _, stored := t.loaded[*att.OriginalRef]; stored {
			oldName := ""
			if change.OldFileName != nil {
				oldName = *change.OldFileName
			}
			changes = append(changes, t.trail.AttachmentChange(t.caseID, *att.OriginalRef, models.AttachmentChangeDelete, oldName, nil, actor))
		} else if original, ok := t.current(*att.OriginalRef); ok {
			sessionOriginal = &original
		}
	}
	t.changes = changes
	if sessionOriginal != nil {
		t.purge(*sessionOriginal, actor)
	}
}

// Replace swaps an attachment for a new file. The original is marked
// deleted and the new attachment carries Replaced and OriginalRef. One
// replace change records both file names.
func (t *AttachmentVersionTracker) Replace(id string, file AttachmentFile, actor models.Actor) (models.Attachment, error) {
	original, ok := t.current(id)
	if !ok || !original.Active() {
		return models.Attachment{}, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}
	if err := t.ValidateFile(file); err != nil {
		return models.Attachment{}, err
	}
	t.markDeleted(original)

	replacement := t.newAttachment(file, actor)
	replacement.Replaced = true
	originalID := original.ID
	replacement.OriginalRef = &originalID
	t.push(replacement)

	oldName := original.FileName
	t.changes = append(t.changes, t.trail.AttachmentChange(t.caseID, replacement.ID, models.AttachmentChangeReplace, replacement.FileName, &oldName, actor))
	return replacement, nil
}

// ClearAll marks every active attachment deleted, session-created ones
// included, and logs one delete change each. Earlier changes are kept. It
// returns the number of attachments removed.
func (t *AttachmentVersionTracker) ClearAll(actor models.Actor) int {
	active := t.Active()
	for _, att := range active {
		t.markDeleted(att)
		t.changes = append(t.changes, t.trail.AttachmentChange(t.caseID, att.ID, models.AttachmentChangeDelete, att.FileName, nil, actor))
	}
	return len(active)
}

// Pending returns the rows the session must persist. Attachments created in
// the session are stored as EXISTING, or as DELETED when they were cleared
// before the commit; stored ones deleted in the session are returned in
// Deleted.
func (t *AttachmentVersionTracker) Pending() models.AttachmentCommit {
	commit := models.AttachmentCommit{CaseID: t.caseID, Changes: t.Changes()}
	for _, id := range t.order {
		att, ok := t.current(id)
		if !ok {
			continue
		}
		if _, stored := t.loaded[id]; stored {
			if att.State == models.AttachmentStateDeleted && len(t.Versions(id)) > 1 {
				commit.Deleted = append(commit.Deleted, att)
			}
			continue
		}
		if att.State == models.AttachmentStateNew {
			att.State = models.AttachmentStateExisting
		}
		commit.Created = append(commit.Created, att)
	}
	return commit
}

// SessionFiles returns the storage paths of attachments created in this
// session, purged ones excluded.
func (t *AttachmentVersionTracker) SessionFiles() []string {
	var paths []string
	for _, id := range t.order {
		if _, stored := t.loaded[id]; stored {
			continue
		}
		if att, ok := t.current(id); ok && att.StoragePath != "" {
			paths = append(paths, att.StoragePath)
		}
	}
	return paths
}
