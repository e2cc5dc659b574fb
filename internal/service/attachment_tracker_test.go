package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
)

var testRules = AttachmentRules{MaxFiles: 3, MaxFileSize: 1024, AllowedMIMEs: []string{"application/pdf", "image/png"}}

func pdf(name string) AttachmentFile {
	return AttachmentFile{FileName: name, MimeType: "application/pdf", SizeBytes: 100, Checksum: "sum-" + name, StoragePath: "blobs/" + name}
}

func storedAttachment(id, name string) models.Attachment {
	return models.Attachment{ID: id, CaseID: "case-1", FileName: name, MimeType: "application/pdf", SizeBytes: 10, State: models.AttachmentStateExisting, UploadedBy: "user-sales", UploadedAt: fixedNow}
}

func newTracker(stored ...models.Attachment) *AttachmentVersionTracker {
	return NewAttachmentVersionTracker("case-1", stored, testRules, newTestTrail(nil))
}

func TestTrackerAddCreatesNewAttachments(t *testing.T) {
	tracker := newTracker()
	actor := testActor(models.RoleSales)

	added, rejected, err := tracker.Add([]AttachmentFile{pdf("a.pdf"), pdf("b.pdf")}, actor)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, added, 2)
	assert.NotEqual(t, added[0].ID, added[1].ID)
	for _, att := range added {
		assert.Equal(t, models.AttachmentStateNew, att.State)
		assert.False(t, att.Replaced)
	}

	changes := tracker.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, models.AttachmentChangeAdd, changes[0].Type)
	assert.Equal(t, "a.pdf", changes[0].FileName)
	assert.Equal(t, "b.pdf", changes[1].FileName)
}

func TestTrackerAddRejectsInvalidFilesIndividually(t *testing.T) {
	tracker := newTracker()
	big := pdf("big.pdf")
	big.SizeBytes = 2048
	exe := AttachmentFile{FileName: "tool.exe", MimeType: "application/x-msdownload", SizeBytes: 10}

	added, rejected, err := tracker.Add([]AttachmentFile{big, pdf("ok.pdf"), exe}, testActor(models.RoleSales))
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "ok.pdf", added[0].FileName)
	require.Len(t, rejected, 2)
	assert.Equal(t, "big.pdf", rejected[0].FileName)
	assert.Equal(t, "tool.exe", rejected[1].FileName)
	assert.Len(t, tracker.Changes(), 1)
}

func TestTrackerAddRejectsWholeBatchOverLimit(t *testing.T) {
	tracker := newTracker(storedAttachment("att-1", "one.pdf"), storedAttachment("att-2", "two.pdf"))

	_, _, err := tracker.Add([]AttachmentFile{pdf("c.pdf"), pdf("d.pdf")}, testActor(models.RoleSales))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Len(t, tracker.Active(), 2)
	assert.Empty(t, tracker.Changes())
}

func TestTrackerAddAllRejected(t *testing.T) {
	tracker := newTracker()
	_, rejected, err := tracker.Add([]AttachmentFile{{FileName: "", MimeType: "application/pdf", SizeBytes: 1}}, testActor(models.RoleSales))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Len(t, rejected, 1)
}

func TestTrackerRemoveExistingMarksDeleted(t *testing.T) {
	tracker := newTracker(storedAttachment("att-1", "one.pdf"))
	require.NoError(t, tracker.Remove("att-1", testActor(models.RoleSales)))

	att, ok := tracker.Get("att-1")
	require.True(t, ok)
	assert.Equal(t, models.AttachmentStateDeleted, att.State)
	assert.NotNil(t, att.DeletedAt)
	assert.Empty(t, tracker.Active())

	changes := tracker.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, models.AttachmentChangeDelete, changes[0].Type)
	assert.Equal(t, "one.pdf", changes[0].FileName)
	assert.Len(t, tracker.Versions("att-1"), 2)

	err := tracker.Remove("att-1", testActor(models.RoleSales))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestTrackerRemoveNewPurgesAndRetractsAdd(t *testing.T) {
	tracker := newTracker()
	added, _, err := tracker.Add([]AttachmentFile{pdf("a.pdf")}, testActor(models.RoleSales))
	require.NoError(t, err)

	require.NoError(t, tracker.Remove(added[0].ID, testActor(models.RoleSales)))
	_, ok := tracker.Get(added[0].ID)
	assert.False(t, ok)
	assert.Empty(t, tracker.Changes())
	assert.True(t, tracker.Pending().Empty())
}

func TestTrackerReplace(t *testing.T) {
	tracker := newTracker(storedAttachment("att-1", "scan.pdf"))
	actor := testActor(models.RoleOperations)

	replacement, err := tracker.Replace("att-1", pdf("scan-v2.pdf"), actor)
	require.NoError(t, err)
	assert.True(t, replacement.Replaced)
	require.NotNil(t, replacement.OriginalRef)
	assert.Equal(t, "att-1", *replacement.OriginalRef)
	assert.NotEqual(t, "att-1", replacement.ID)

	original, _ := tracker.Get("att-1")
	assert.Equal(t, models.AttachmentStateDeleted, original.State)

	changes := tracker.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, models.AttachmentChangeReplace, changes[0].Type)
	assert.Equal(t, "scan-v2.pdf", changes[0].FileName)
	require.NotNil(t, changes[0].OldFileName)
	assert.Equal(t, "scan.pdf", *changes[0].OldFileName)

	lineage := tracker.Lineage(replacement.ID)
	require.Len(t, lineage, 2)
	assert.Equal(t, replacement.ID, lineage[0].ID)
	assert.Equal(t, "att-1", lineage[1].ID)
}

func TestTrackerReplaceChainLineage(t *testing.T) {
	tracker := newTracker(storedAttachment("att-1", "v1.pdf"))
	actor := testActor(models.RoleOperations)
	second, err := tracker.Replace("att-1", pdf("v2.pdf"), actor)
	require.NoError(t, err)
	third, err := tracker.Replace(second.ID, pdf("v3.pdf"), actor)
	require.NoError(t, err)

	lineage := tracker.Lineage(third.ID)
	require.Len(t, lineage, 3)
	assert.Equal(t, []string{third.ID, second.ID, "att-1"}, []string{lineage[0].ID, lineage[1].ID, lineage[2].ID})
	assert.Len(t, tracker.Active(), 1)
}

func TestTrackerReplaceValidatesFile(t *testing.T) {
	tracker := newTracker(storedAttachment("att-1", "scan.pdf"))
	bad := pdf("huge.pdf")
	bad.SizeBytes = 4096

	_, err := tracker.Replace("att-1", bad, testActor(models.RoleOperations))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	att, _ := tracker.Get("att-1")
	assert.Equal(t, models.AttachmentStateExisting, att.State)

	_, err = tracker.Replace("missing", pdf("x.pdf"), testActor(models.RoleOperations))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestTrackerRemoveReplacementOfStoredLogsDelete(t *testing.T) {
	tracker := newTracker(storedAttachment("att-1", "scan.pdf"))
	actor := testActor(models.RoleOperations)
	replacement, err := tracker.Replace("att-1", pdf("scan-v2.pdf"), actor)
	require.NoError(t, err)

	require.NoError(t, tracker.Remove(replacement.ID, actor))
	changes := tracker.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, models.AttachmentChangeDelete, changes[0].Type)
	assert.Equal(t, "att-1", changes[0].AttachmentID)
	assert.Equal(t, "scan.pdf", changes[0].FileName)

	commit := tracker.Pending()
	assert.Empty(t, commit.Created)
	require.Len(t, commit.Deleted, 1)
	assert.Equal(t, "att-1", commit.Deleted[0].ID)
}

func TestTrackerClearAll(t *testing.T) {
	tracker := newTracker(storedAttachment("att-1", "one.pdf"), storedAttachment("att-2", "two.pdf"))
	removed := tracker.ClearAll(testActor(models.RoleSales))
	assert.Equal(t, 2, removed)
	assert.Empty(t, tracker.Active())

	changes := tracker.Changes()
	require.Len(t, changes, 2)
	for _, change := range changes {
		assert.Equal(t, models.AttachmentChangeDelete, change.Type)
	}
}

func TestTrackerClearAllIncludesSessionAttachments(t *testing.T) {
	tracker := newTracker(storedAttachment("att-1", "one.pdf"))
	actor := testActor(models.RoleSales)
	added, _, err := tracker.Add([]AttachmentFile{pdf("two.pdf"), pdf("three.pdf")}, actor)
	require.NoError(t, err)
	require.Len(t, tracker.Active(), 3)

	removed := tracker.ClearAll(actor)
	assert.Equal(t, 3, removed)
	assert.Empty(t, tracker.Active())

	changes := tracker.Changes()
	require.Len(t, changes, 5)
	deletes := 0
	for _, change := range changes {
		if change.Type == models.AttachmentChangeDelete {
			deletes++
		}
	}
	assert.Equal(t, 3, deletes)
	assert.Equal(t, models.AttachmentChangeAdd, changes[0].Type)

	for _, att := range added {
		current, ok := tracker.Get(att.ID)
		require.True(t, ok)
		assert.Equal(t, models.AttachmentStateDeleted, current.State)
		assert.NotNil(t, current.DeletedAt)
	}

	commit := tracker.Pending()
	require.Len(t, commit.Created, 2)
	for _, att := range commit.Created {
		assert.Equal(t, models.AttachmentStateDeleted, att.State)
	}
	require.Len(t, commit.Deleted, 1)
	assert.Equal(t, "att-1", commit.Deleted[0].ID)
	assert.Len(t, commit.Changes, 5)
}

func TestTrackerIdentitiesNeverReused(t *testing.T) {
	tracker := newTracker()
	actor := testActor(models.RoleSales)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		added, _, err := tracker.Add([]AttachmentFile{pdf(fmt.Sprintf("f%d.pdf", i))}, actor)
		require.NoError(t, err)
		require.False(t, seen[added[0].ID])
		seen[added[0].ID] = true
		require.NoError(t, tracker.Remove(added[0].ID, actor))
	}
}

func TestTrackerPendingStoresNewAsExisting(t *testing.T) {
	tracker := newTracker(storedAttachment("att-1", "one.pdf"))
	actor := testActor(models.RoleSales)
	added, _, err := tracker.Add([]AttachmentFile{pdf("two.pdf")}, actor)
	require.NoError(t, err)
	require.NoError(t, tracker.Remove("att-1", actor))

	commit := tracker.Pending()
	require.Len(t, commit.Created, 1)
	assert.Equal(t, added[0].ID, commit.Created[0].ID)
	assert.Equal(t, models.AttachmentStateExisting, commit.Created[0].State)
	require.Len(t, commit.Deleted, 1)
	assert.Len(t, commit.Changes, 2)
	assert.Equal(t, []string{"blobs/two.pdf"}, tracker.SessionFiles())
}
