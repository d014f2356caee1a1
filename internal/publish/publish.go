// Package publish implements the Publish Coordinator of spec §4.H: a
// two-phase validate-then-snapshot transaction against the Store,
// idempotent by client token, followed by async visibility scheduling.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/kieranveyl/knowledgevault/internal/idgen"
	"github.com/kieranveyl/knowledgevault/internal/store"
	"github.com/kieranveyl/knowledgevault/internal/tokenize"
	"github.com/kieranveyl/knowledgevault/internal/vault"
	"github.com/kieranveyl/knowledgevault/internal/visibility"
)

const (
	maxTitleLen   = 200
	maxTags       = 15
	minTagLen     = 1
	maxTagLen     = 40
	maxContentLen = 1_000_000
)

var tagPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// PublishRequest is the input to Publish.
type PublishRequest struct {
	NoteID      string
	Collections []string // collection ids, must resolve to ≥1 valid collection
	Label       vault.Label
	ClientToken string
}

// PublishResult is Publish's immediate (pre-indexing) response.
type PublishResult struct {
	VersionID             string
	NoteID                string
	Status                string // "version_created"
	EstimatedSearchableIn time.Duration
}

// RollbackRequest is the input to Rollback.
type RollbackRequest struct {
	NoteID          string
	TargetVersionID string
	ClientToken     string
}

// RollbackResult is Rollback's immediate response.
type RollbackResult struct {
	NewVersionID    string
	NoteID          string
	TargetVersionID string
	Status          string
}

// Coordinator implements Publish and Rollback.
type Coordinator struct {
	store     store.Store
	scheduler *visibility.Scheduler
	// estimate is the hint returned to callers for how long indexing is
	// expected to take before a version becomes searchable.
	estimate time.Duration
}

// New constructs a Coordinator.
func New(st store.Store, sched *visibility.Scheduler, estimate time.Duration) *Coordinator {
	if estimate <= 0 {
		estimate = 2 * time.Second
	}
	return &Coordinator{store: st, scheduler: sched, estimate: estimate}
}

// Publish validates the note's current Draft, snapshots it into a new
// immutable Version, records a Publication, and schedules indexing.
// It does not wait for indexing to complete.
func (c *Coordinator) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if rec, ok, err := c.store.LookupIdempotency(ctx, req.NoteID, req.ClientToken); err != nil {
		return PublishResult{}, err
	} else if ok {
		return PublishResult{VersionID: rec.VersionID, NoteID: req.NoteID, Status: "version_created", EstimatedSearchableIn: 0}, nil
	}

	note, err := c.store.GetNote(ctx, req.NoteID)
	if err != nil {
		return PublishResult{}, err
	}
	draft, err := c.store.GetDraft(ctx, req.NoteID)
	if err != nil {
		return PublishResult{}, err
	}

	if errs := validatePublish(note.Title, draft.Tags, draft.BodyMD, req.Collections); len(errs) > 0 {
		return PublishResult{}, &vault.ValidationError{Errors: errs}
	}

	label := req.Label
	if label == "" {
		label = vault.LabelMinor
	}

	normalized := tokenize.Normalize(draft.BodyMD)
	sum := sha256.Sum256([]byte(normalized))
	hash := hex.EncodeToString(sum[:])

	v := vault.Version{
		ID:              idgen.New(idgen.Version),
		NoteID:          req.NoteID,
		BodyMD:          draft.BodyMD,
		Tags:            draft.Tags,
		ContentHash:     hash,
		CreatedAt:       time.Now(),
		ParentVersionID: note.CurrentVersionID,
		Label:           label,
	}
	note.CurrentVersionID = v.ID
	note.UpdatedAt = v.CreatedAt

	pub := vault.Publication{
		ID:            idgen.New(idgen.Publication),
		NoteID:        req.NoteID,
		VersionID:     v.ID,
		CollectionIDs: req.Collections,
		PublishedAt:   v.CreatedAt,
		Label:         label,
	}

	if _, _, err := c.store.Publish(ctx, store.PublishWrite{
		Version:     v,
		Note:        note,
		Publication: pub,
		Idempotency: store.IdempotencyRecord{
			NoteID: req.NoteID, ClientToken: req.ClientToken, VersionID: v.ID, CreatedAt: v.CreatedAt.Unix(),
		},
	}); err != nil {
		return PublishResult{}, err
	}

	if c.scheduler != nil {
		_ = c.scheduler.Submit(visibility.Event{
			NoteID: req.NoteID, VersionID: v.ID, Op: visibility.OpPublish, Collections: req.Collections,
		}, 0)
	}

	return PublishResult{VersionID: v.ID, NoteID: req.NoteID, Status: "version_created", EstimatedSearchableIn: c.estimate}, nil
}

// Rollback creates a new Version whose content equals target's, with
// label=major, and schedules indexing the same way Publish does.
func (c *Coordinator) Rollback(ctx context.Context, req RollbackRequest) (RollbackResult, error) {
	if rec, ok, err := c.store.LookupIdempotency(ctx, req.NoteID, req.ClientToken); err != nil {
		return RollbackResult{}, err
	} else if ok {
		return RollbackResult{NewVersionID: rec.VersionID, NoteID: req.NoteID, TargetVersionID: req.TargetVersionID, Status: "version_created"}, nil
	}

	note, err := c.store.GetNote(ctx, req.NoteID)
	if err != nil {
		return RollbackResult{}, err
	}
	target, err := c.store.GetVersion(ctx, req.TargetVersionID)
	if err != nil {
		return RollbackResult{}, err
	}
	if target.NoteID != req.NoteID {
		return RollbackResult{}, &vault.ValidationError{Errors: []string{"target_version_id does not belong to note_id"}}
	}

	v := vault.Version{
		ID:              idgen.New(idgen.Version),
		NoteID:          req.NoteID,
		BodyMD:          target.BodyMD,
		Tags:            target.Tags,
		ContentHash:     target.ContentHash,
		CreatedAt:       time.Now(),
		ParentVersionID: req.TargetVersionID,
		Label:           vault.LabelMajor,
	}
	note.CurrentVersionID = v.ID
	note.UpdatedAt = v.CreatedAt

	// Republish into whatever collections the target version was last
	// published to; the caller doesn't resupply them for a rollback.
	targetPub, err := c.store.GetPublicationByVersion(ctx, req.TargetVersionID)
	if err != nil {
		return RollbackResult{}, err
	}
	collections := targetPub.CollectionIDs

	pub := vault.Publication{
		ID:            idgen.New(idgen.Publication),
		NoteID:        req.NoteID,
		VersionID:     v.ID,
		CollectionIDs: collections,
		PublishedAt:   v.CreatedAt,
		Label:         vault.LabelMajor,
	}

	if _, _, err := c.store.Publish(ctx, store.PublishWrite{
		Version:     v,
		Note:        note,
		Publication: pub,
		Idempotency: store.IdempotencyRecord{
			NoteID: req.NoteID, ClientToken: req.ClientToken, VersionID: v.ID, CreatedAt: v.CreatedAt.Unix(),
		},
	}); err != nil {
		return RollbackResult{}, err
	}

	if c.scheduler != nil {
		_ = c.scheduler.Submit(visibility.Event{
			NoteID: req.NoteID, VersionID: v.ID, Op: visibility.OpRollback, Collections: collections,
		}, 0)
	}

	return RollbackResult{NewVersionID: v.ID, NoteID: req.NoteID, TargetVersionID: req.TargetVersionID, Status: "version_created"}, nil
}

func validatePublish(title string, tags []string, body string, collections []string) []string {
	var errs []string
	if l := utf8.RuneCountInString(title); l < 1 || l > maxTitleLen {
		errs = append(errs, "title length must be between 1 and 200 characters")
	}
	if len(collections) < 1 {
		errs = append(errs, "at least one collection id is required")
	}
	if len(tags) > maxTags {
		errs = append(errs, "at most 15 tags allowed")
	}
	for _, t := range tags {
		if l := utf8.RuneCountInString(t); l < minTagLen || l > maxTagLen {
			errs = append(errs, "tag length must be between 1 and 40 characters: "+t)
			continue
		}
		if !tagPattern.MatchString(t) {
			errs = append(errs, "tag contains disallowed characters: "+t)
		}
	}
	if utf8.RuneCountInString(body) > maxContentLen {
		errs = append(errs, "content exceeds maximum length of 1,000,000 characters")
	}
	return errs
}
