package publish

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranveyl/knowledgevault/internal/store/memory"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

func seedNoteWithDraft(t *testing.T, st *memory.Store, noteID, title, body string, collections []string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.CreateNote(ctx, vault.Note{ID: noteID, Title: title})
	require.NoError(t, err)
	_, err = st.SaveDraft(ctx, vault.Draft{NoteID: noteID, BodyMD: body, Tags: []string{"go"}, AutosaveTS: time.Now()})
	require.NoError(t, err)
	for _, c := range collections {
		_, err := st.CreateCollection(ctx, vault.Collection{ID: c, Name: c})
		require.NoError(t, err)
	}
}

func TestPublishCreatesVersionAndPublication(t *testing.T) {
	st := memory.New()
	seedNoteWithDraft(t, st, "n1", "My Note", "hello world", []string{"colA"})
	coord := New(st, nil, 0)

	res, err := coord.Publish(context.Background(), PublishRequest{
		NoteID:      "n1",
		Collections: []string{"colA"},
		ClientToken: "tok1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.VersionID)
	assert.Equal(t, "version_created", res.Status)

	note, err := st.GetNote(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, res.VersionID, note.CurrentVersionID)
}

func TestPublishIsIdempotentByClientToken(t *testing.T) {
	st := memory.New()
	seedNoteWithDraft(t, st, "n1", "My Note", "hello world", []string{"colA"})
	coord := New(st, nil, 0)
	ctx := context.Background()

	first, err := coord.Publish(ctx, PublishRequest{NoteID: "n1", Collections: []string{"colA"}, ClientToken: "tok1"})
	require.NoError(t, err)
	second, err := coord.Publish(ctx, PublishRequest{NoteID: "n1", Collections: []string{"colA"}, ClientToken: "tok1"})
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, second.VersionID)
}

func TestPublishRejectsMissingCollections(t *testing.T) {
	st := memory.New()
	seedNoteWithDraft(t, st, "n1", "My Note", "hello world", nil)
	coord := New(st, nil, 0)

	_, err := coord.Publish(context.Background(), PublishRequest{NoteID: "n1", ClientToken: "tok1"})
	var verr *vault.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPublishRejectsOversizedTitle(t *testing.T) {
	st := memory.New()
	longTitle := make([]byte, 201)
	for i := range longTitle {
		longTitle[i] = 'a'
	}
	seedNoteWithDraft(t, st, "n1", string(longTitle), "body", []string{"colA"})
	coord := New(st, nil, 0)

	_, err := coord.Publish(context.Background(), PublishRequest{NoteID: "n1", Collections: []string{"colA"}, ClientToken: "tok1"})
	var verr *vault.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRollbackInheritsTargetVersionCollections(t *testing.T) {
	st := memory.New()
	seedNoteWithDraft(t, st, "n1", "My Note", "version one content", []string{"colA"})
	coord := New(st, nil, 0)
	ctx := context.Background()

	first, err := coord.Publish(ctx, PublishRequest{NoteID: "n1", Collections: []string{"colA"}, ClientToken: "tok1"})
	require.NoError(t, err)

	_, err = st.SaveDraft(ctx, vault.Draft{NoteID: "n1", BodyMD: "version two content", AutosaveTS: time.Now()})
	require.NoError(t, err)
	_, err = coord.Publish(ctx, PublishRequest{NoteID: "n1", Collections: []string{"colA"}, ClientToken: "tok2"})
	require.NoError(t, err)

	rb, err := coord.Rollback(ctx, RollbackRequest{NoteID: "n1", TargetVersionID: first.VersionID, ClientToken: "tok3"})
	require.NoError(t, err)

	pub, err := st.GetPublicationByVersion(ctx, rb.NewVersionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"colA"}, pub.CollectionIDs)
}

func TestRollbackRejectsVersionFromAnotherNote(t *testing.T) {
	st := memory.New()
	seedNoteWithDraft(t, st, "n1", "Note One", "body one", []string{"colA"})
	seedNoteWithDraft(t, st, "n2", "Note Two", "body two", []string{"colA"})
	coord := New(st, nil, 0)
	ctx := context.Background()

	other, err := coord.Publish(ctx, PublishRequest{NoteID: "n2", Collections: []string{"colA"}, ClientToken: "tokA"})
	require.NoError(t, err)

	_, err = coord.Rollback(ctx, RollbackRequest{NoteID: "n1", TargetVersionID: other.VersionID, ClientToken: "tokB"})
	var verr *vault.ValidationError
	assert.ErrorAs(t, err, &verr)
}
