// Package biometric coordinates registration and login on top of the
// extractor, the matcher and the encoding store.
package biometric

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/faceid/internal/database"
	"github.com/kozaktomas/faceid/internal/descriptor"
	"github.com/kozaktomas/faceid/internal/extractor"
	"github.com/kozaktomas/faceid/internal/facematch"
)

// DescriptorExtractor turns images into descriptors.
type DescriptorExtractor interface {
	Extract(ctx context.Context, imageData []byte) (descriptor.Descriptor, error)
	ExtractAveraged(ctx context.Context, images []extractor.AngleImage) (descriptor.Descriptor, []extractor.AngleFailure, error)
	Model() string
}

// EnrollRequest registers or re-registers one identity from one or more captures.
type EnrollRequest struct {
	IdentityID string // empty assigns a new UUID
	Images     []extractor.AngleImage
	Metadata   database.Metadata
}

// EnrollResult describes a committed enrollment.
type EnrollResult struct {
	Enrollment database.Enrollment
	Skipped    []extractor.AngleFailure // captures that produced no descriptor
	Replaced   bool                     // the identity was already enrolled
}

// Coordinator is the entry point for registration and login.
type Coordinator struct {
	extractor DescriptorExtractor
	matcher   *facematch.Matcher
	store     *database.Store
	logger    *slog.Logger

	// section admits one enrollment at a time between duplicate check and write.
	section chan struct{}
}

// NewCoordinator wires the coordinator. The matcher must read from store.
func NewCoordinator(ex DescriptorExtractor, store *database.Store, matcher *facematch.Matcher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		extractor: ex,
		matcher:   matcher,
		store:     store,
		logger:    logger,
		section:   make(chan struct{}, 1),
	}
}

// Enroll extracts and averages the captures, rejects faces already enrolled
// under another identity, and stores the result. Extraction runs before the
// enrollment section is entered; the duplicate check and the write run inside it.
func (c *Coordinator) Enroll(ctx context.Context, req EnrollRequest) (EnrollResult, error) {
	id := strings.TrimSpace(req.IdentityID)
	if id == "" {
		id = uuid.NewString()
	}

	avg, skipped, err := c.extractor.ExtractAveraged(ctx, req.Images)
	if err != nil {
		return EnrollResult{Skipped: skipped}, err
	}

	select {
	case c.section <- struct{}{}:
	case <-ctx.Done():
		return EnrollResult{}, ctx.Err()
	}
	defer func() { <-c.section }()

	if err := ctx.Err(); err != nil {
		return EnrollResult{}, err
	}

	res, err := c.matcher.MatchExcluding(avg, id)
	if err != nil {
		return EnrollResult{}, fmt.Errorf("duplicate check: %w", err)
	}
	if res.Matched || res.Reason == facematch.ReasonAmbiguous {
		dup := &DuplicateError{
			IdentityID: res.NearestID(),
			Distance:   res.Distance,
			Ambiguous:  res.Reason == facematch.ReasonAmbiguous,
		}
		c.logger.Warn("enrollment rejected as duplicate",
			"identity_id", id, "conflicts_with", dup.IdentityID, "distance", res.Distance)
		return EnrollResult{}, dup
	}

	_, replaced := c.store.Get(id)
	e := database.Enrollment{
		IdentityID: id,
		Descriptor: avg,
		Metadata: database.Metadata{
			DisplayName: strings.TrimSpace(req.Metadata.DisplayName),
			Email:       strings.TrimSpace(req.Metadata.Email),
		},
		AngleCount: len(req.Images) - len(skipped),
		Model:      c.extractor.Model(),
		EnrolledAt: time.Now().UTC(),
	}
	if err := c.store.Put(ctx, e); err != nil {
		return EnrollResult{}, fmt.Errorf("store enrollment: %w", err)
	}

	c.logger.Info("identity enrolled",
		"identity_id", id, "angles", e.AngleCount, "skipped", len(skipped), "replaced", replaced)
	return EnrollResult{Enrollment: e, Skipped: skipped, Replaced: replaced}, nil
}

// Unenroll removes an identity's biometric data. Unknown identities are not an error.
func (c *Coordinator) Unenroll(ctx context.Context, identityID string) error {
	if strings.TrimSpace(identityID) == "" {
		return ErrMissingIdentity
	}
	_, existed := c.store.Get(identityID)
	if err := c.store.Delete(ctx, identityID); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if existed {
		c.logger.Info("identity unenrolled", "identity_id", identityID)
	}
	return nil
}

// Identify resolves a single login capture. A non-match is a result, not an error.
func (c *Coordinator) Identify(ctx context.Context, image []byte) (facematch.Result, error) {
	probe, err := c.extractor.Extract(ctx, image)
	if err != nil {
		return facematch.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return facematch.Result{}, err
	}

	res, err := c.matcher.Match(probe)
	if err != nil {
		return facematch.Result{}, fmt.Errorf("match: %w", err)
	}
	c.logger.Debug("identify",
		"matched", res.Matched, "identity_id", res.IdentityID, "distance", res.Distance, "reason", res.Reason)
	return res, nil
}

// Lookup returns the enrollments whose display name matches name, ignoring
// case, diacritics, dashes and extra whitespace.
func (c *Coordinator) Lookup(name string) []database.Enrollment {
	want := facematch.NormalizeDisplayName(name)
	if want == "" {
		return nil
	}

	var out []database.Enrollment
	c.store.Snapshot().Range(func(e *database.Enrollment) bool {
		if facematch.NormalizeDisplayName(e.Metadata.DisplayName) == want {
			out = append(out, *e)
		}
		return true
	})
	return out
}

// Store returns the underlying encoding store.
func (c *Coordinator) Store() *database.Store {
	return c.store
}
