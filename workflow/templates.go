package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WorkflowPatch is a partial edit of an OrgWorkflow. Nil fields are left
// untouched. A non-nil empty Steps clears the step list.
type WorkflowPatch struct {
	Name         *string
	Description  *string
	WorkflowType *WorkflowType
	Steps        []StepSpec
}

// Fields returns the fields the patch touches.
func (p WorkflowPatch) Fields() []FieldName {
	var fields []FieldName
	if p.Name != nil {
		fields = append(fields, FieldWorkflowName)
	}
	if p.Description != nil {
		fields = append(fields, FieldDescription)
	}
	if p.WorkflowType != nil {
		fields = append(fields, FieldWorkflowType)
	}
	if p.Steps != nil {
		fields = append(fields, FieldSteps)
	}
	return fields
}

func (e *Engine) conflict(entity, id string, expected, actual int) *EngineError {
	e.cfg.metrics.IncrementConflicts(entity)
	ee := conflictError(entity, id, expected, actual)
	switch entity {
	case EntityWorkflow:
		ee.WorkflowID = id
	case EntityStepRun:
		ee.StepRunID = id
	}
	return ee
}

// swapConflict reports a failed compare-and-swap with the version the store
// found, or zero when the store does not say.
func (e *Engine) swapConflict(entity, id string, expected int, err error) *EngineError {
	actual := 0
	var mismatch *VersionMismatchError
	if errors.As(err, &mismatch) {
		actual = mismatch.Actual
	}
	return e.conflict(entity, id, expected, actual)
}

// workflowFromPack builds the org copy of a pack template.
func workflowFromPack(t PackTemplate, orgID, id string, now time.Time) (OrgWorkflow, error) {
	steps, err := NormalizeSteps(t.Steps)
	if err != nil {
		return OrgWorkflow{}, err
	}
	return OrgWorkflow{
		ID:               id,
		OrgID:            orgID,
		SourcePackKey:    t.PackKey,
		SourceTemplateID: t.ID(),
		WorkflowType:     t.WorkflowType,
		Name:             t.Name,
		Description:      t.Description,
		IsActive:         true,
		IsLocked:         t.Locked,
		EditableFields:   append([]FieldName(nil), t.EditableFields...),
		Steps:            steps,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Seed creates an org-owned copy of every template in the given packs that
// the organization does not already have. It returns how many workflows were
// created; seeding the same packs again creates none.
func (e *Engine) Seed(ctx context.Context, orgID, actorID string, packKeys ...string) (int, error) {
	return e.seed(ctx, "seed", EventWorkflowSeeded, orgID, actorID, packKeys)
}

// ReseedMissing re-creates templates that were deleted from the
// organization. Existing copies are never touched, so local edits survive.
func (e *Engine) ReseedMissing(ctx context.Context, orgID, actorID string, packKeys ...string) (int, error) {
	return e.seed(ctx, "reseed_missing", EventWorkflowReseeded, orgID, actorID, packKeys)
}

func (e *Engine) seed(ctx context.Context, operation, eventType, orgID, actorID string, packKeys []string) (created int, err error) {
	start := time.Now()
	defer func() { e.observe(operation, start, err) }()

	if err := requireArg("org id", orgID); err != nil {
		return 0, err
	}
	keys := uniqueKeys(packKeys)
	if len(keys) == 0 {
		return 0, newError(ErrInvalidArgument, "at least one pack key is required")
	}
	if e.catalog == nil {
		return 0, newError(ErrInvalidArgument, "no pack catalog configured")
	}
	templates, err := e.catalog.ListPackTemplates(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("list pack templates: %w", err)
	}

	now := e.cfg.clock()
	perPack := map[string]int{}
	err = e.update(ctx, func(tx Tx, log *eventLog) error {
		created = 0
		perPack = map[string]int{}
		for _, t := range templates {
			wf, err := workflowFromPack(t, orgID, e.cfg.newID(), now)
			if err != nil {
				return newError(ErrInvalidArgument, "pack template %s: %v", t.ID(), err)
			}
			ok, err := tx.InsertWorkflow(ctx, wf)
			if err != nil {
				return fmt.Errorf("insert workflow for %s: %w", t.ID(), err)
			}
			if !ok {
				continue
			}
			created++
			perPack[t.PackKey]++
			log.add(e.workflowEvent(eventType, wf, actorID, now, map[string]interface{}{
				"pack_key": t.PackKey,
			}))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for pack, n := range perPack {
		e.cfg.metrics.TemplatesSeeded(pack, n)
	}
	e.cfg.logger.Info("templates seeded",
		zap.String("operation", operation),
		zap.String("org_id", orgID),
		zap.Strings("packs", keys),
		zap.Int("created", created))
	return created, nil
}

// RestoreFromPack resets a workflow's content (name, description, steps) to
// its source pack template. Identity, activation, the lock flag and the
// editable allow-list are preserved and the version is bumped.
func (e *Engine) RestoreFromPack(ctx context.Context, orgID, actorID, workflowID string) (wf OrgWorkflow, err error) {
	start := time.Now()
	defer func() { e.observe("restore_from_pack", start, err) }()

	current, err := e.GetWorkflow(ctx, orgID, workflowID)
	if err != nil {
		return OrgWorkflow{}, err
	}
	if !current.FromPack() {
		ee := newError(ErrNotRestorable, "workflow %s has no pack source", workflowID)
		ee.WorkflowID = workflowID
		return OrgWorkflow{}, ee
	}
	if e.catalog == nil {
		return OrgWorkflow{}, newError(ErrNotRestorable, "no pack catalog configured")
	}
	templates, err := e.catalog.ListPackTemplates(ctx, []string{current.SourcePackKey})
	if err != nil {
		return OrgWorkflow{}, fmt.Errorf("list pack templates: %w", err)
	}
	var source *PackTemplate
	for i := range templates {
		if templates[i].ID() == current.SourceTemplateID {
			source = &templates[i]
			break
		}
	}
	if source == nil {
		ee := newError(ErrNotRestorable, "source template %s is no longer in the catalog", current.SourceTemplateID)
		ee.WorkflowID = workflowID
		return OrgWorkflow{}, ee
	}
	steps, err := NormalizeSteps(source.Steps)
	if err != nil {
		return OrgWorkflow{}, newError(ErrInvalidArgument, "pack template %s: %v", source.ID(), err)
	}

	now := e.cfg.clock()
	err = e.update(ctx, func(tx Tx, log *eventLog) error {
		cur, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return lookupErr(err, EntityWorkflow, workflowID)
		}
		next := cur.Clone()
		next.Name = source.Name
		next.Description = source.Description
		next.Steps = append([]StepSpec(nil), steps...)
		next.Version = cur.Version + 1
		next.UpdatedAt = now
		if err := tx.UpdateWorkflow(ctx, next, cur.Version); err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				return e.swapConflict(EntityWorkflow, workflowID, cur.Version, err)
			}
			return fmt.Errorf("update workflow: %w", err)
		}
		wf = next
		log.add(e.workflowEvent(EventWorkflowRestored, next, actorID, now, nil))
		return nil
	})
	if err != nil {
		return OrgWorkflow{}, err
	}
	return wf, nil
}

// UpdateWorkflow applies a local edit.
//
// The edit fails with Conflict when expectedVersion is stale, with Locked on
// a locked template, and with FieldNotEditable when the patch touches a field
// outside the allow-list and the actor has no admin capability. Admin
// capability never overrides a lock.
func (e *Engine) UpdateWorkflow(ctx context.Context, orgID, actorID, workflowID string, expectedVersion int, patch WorkflowPatch) (wf OrgWorkflow, err error) {
	start := time.Now()
	defer func() { e.observe("update_workflow", start, err) }()

	fields := patch.Fields()
	if len(fields) == 0 {
		return OrgWorkflow{}, newError(ErrInvalidArgument, "patch touches no fields")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return OrgWorkflow{}, newError(ErrInvalidArgument, "name cannot be empty")
	}
	if patch.WorkflowType != nil && *patch.WorkflowType == "" {
		return OrgWorkflow{}, newError(ErrInvalidArgument, "workflow type cannot be empty")
	}
	var steps []StepSpec
	if patch.Steps != nil {
		if steps, err = NormalizeSteps(patch.Steps); err != nil {
			return OrgWorkflow{}, newError(ErrInvalidArgument, "steps: %v", err)
		}
	}
	admin := e.cfg.authorizer.HasAdminCapability(ctx, actorID, orgID)

	now := e.cfg.clock()
	err = e.update(ctx, func(tx Tx, log *eventLog) error {
		cur, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return lookupErr(err, EntityWorkflow, workflowID)
		}
		if cur.OrgID != orgID {
			return notFound(EntityWorkflow, workflowID)
		}
		if cur.Version != expectedVersion {
			return e.conflict(EntityWorkflow, workflowID, expectedVersion, cur.Version)
		}
		if cur.IsLocked {
			ee := newError(ErrLocked, "workflow %s is locked", workflowID)
			ee.WorkflowID = workflowID
			return ee
		}
		for _, f := range fields {
			if !cur.Editable(f) && !admin {
				ee := newError(ErrFieldNotEditable, "field %s of workflow %s is not editable", f, workflowID)
				ee.WorkflowID = workflowID
				ee.Field = f
				return ee
			}
		}

		next := cur.Clone()
		if patch.Name != nil {
			next.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.WorkflowType != nil {
			next.WorkflowType = *patch.WorkflowType
		}
		if patch.Steps != nil {
			next.Steps = steps
		}
		next.Version = expectedVersion + 1
		next.UpdatedAt = now
		if err := tx.UpdateWorkflow(ctx, next, expectedVersion); err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				return e.swapConflict(EntityWorkflow, workflowID, expectedVersion, err)
			}
			return fmt.Errorf("update workflow: %w", err)
		}
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = string(f)
		}
		sort.Strings(names)
		wf = next
		log.add(e.workflowEvent(EventWorkflowUpdated, next, actorID, now, map[string]interface{}{
			"fields": names,
		}))
		return nil
	})
	if err != nil {
		return OrgWorkflow{}, err
	}
	return wf, nil
}

// SetActive activates or deactivates a workflow. It is permitted on locked
// templates. Setting the current state again is a no-op and emits nothing.
func (e *Engine) SetActive(ctx context.Context, orgID, actorID, workflowID string, active bool) (wf OrgWorkflow, err error) {
	start := time.Now()
	defer func() { e.observe("set_active", start, err) }()

	now := e.cfg.clock()
	err = e.update(ctx, func(tx Tx, log *eventLog) error {
		cur, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return lookupErr(err, EntityWorkflow, workflowID)
		}
		if cur.OrgID != orgID {
			return notFound(EntityWorkflow, workflowID)
		}
		if cur.IsActive == active {
			wf = cur
			return nil
		}
		next := cur.Clone()
		next.IsActive = active
		next.Version = cur.Version + 1
		next.UpdatedAt = now
		if err := tx.UpdateWorkflow(ctx, next, cur.Version); err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				return e.swapConflict(EntityWorkflow, workflowID, cur.Version, err)
			}
			return fmt.Errorf("update workflow: %w", err)
		}
		eventType := EventWorkflowDeactivated
		if active {
			eventType = EventWorkflowActivated
		}
		wf = next
		log.add(e.workflowEvent(eventType, next, actorID, now, nil))
		return nil
	})
	if err != nil {
		return OrgWorkflow{}, err
	}
	return wf, nil
}
