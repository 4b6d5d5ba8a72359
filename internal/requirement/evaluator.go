// Package requirement decides whether an application satisfies a stage's
// entry/exit requirements and interprets the condition predicates that
// gate transitions. Everything here is pure with respect to its inputs;
// documents come from a collaborator interface.
package requirement

import (
	"context"
	"fmt"
	"sort"

	"github.com/enrollflow/enrollflow/model"
)

// DocumentSource supplies the documents currently associated with an
// application.
type DocumentSource interface {
	DocumentsFor(ctx context.Context, applicationID string) ([]model.Document, error)
}

// ActionChecker evaluates a stage's required-action identifiers. The
// surrounding system plugs in whatever "action" means to it (interview
// completed, fee paid, ...).
type ActionChecker interface {
	ActionComplete(ctx context.Context, app model.Application, actionID string) (bool, error)
}

// ActionCheckerFunc adapts a function to the ActionChecker interface.
type ActionCheckerFunc func(ctx context.Context, app model.Application, actionID string) (bool, error)

func (f ActionCheckerFunc) ActionComplete(ctx context.Context, app model.Application, actionID string) (bool, error) {
	return f(ctx, app, actionID)
}

// Result reports whether a stage's requirements are met and, if not, what
// is missing. An unverified-but-present document is a different failure
// mode than an absent one and is reported separately.
type Result struct {
	Met              bool     `json:"met"`
	MissingDocuments []string `json:"missing_documents,omitempty"`
	Unverified       []string `json:"unverified_documents,omitempty"`
	Other            []string `json:"other,omitempty"`
}

// Issues flattens the result into human-readable strings for error
// envelopes and logs.
func (r Result) Issues() []string {
	var out []string
	for _, d := range r.MissingDocuments {
		out = append(out, fmt.Sprintf("missing document %q", d))
	}
	for _, d := range r.Unverified {
		out = append(out, fmt.Sprintf("document %q is not verified", d))
	}
	out = append(out, r.Other...)
	return out
}

// Evaluator computes stage-requirement satisfaction and evaluates
// transition condition predicates.
type Evaluator struct {
	docs    DocumentSource
	actions ActionChecker
}

// NewEvaluator creates an Evaluator. actions may be nil, in which case
// required actions are treated as unmet.
func NewEvaluator(docs DocumentSource, actions ActionChecker) *Evaluator {
	return &Evaluator{docs: docs, actions: actions}
}

// RequirementsMet checks a stage's requirements against the application's
// current document set and action state.
func (e *Evaluator) RequirementsMet(ctx context.Context, app model.Application, stage model.Stage) (Result, error) {
	docs, err := e.docs.DocumentsFor(ctx, app.ID)
	if err != nil {
		return Result{}, fmt.Errorf("requirement: load documents for %q: %w", app.ID, err)
	}

	res := Result{}

	present := make(map[string]bool, len(docs))
	for _, d := range docs {
		present[d.Type] = true
	}
	for _, required := range stage.RequiredDocuments {
		if !present[required] {
			res.MissingDocuments = append(res.MissingDocuments, required)
		}
	}
	sort.Strings(res.MissingDocuments)

	// Every associated document must be verified, not just the required
	// ones: an applicant with a pending document is not ready to advance.
	seenUnverified := make(map[string]bool)
	for _, d := range docs {
		if !d.Verified && !seenUnverified[d.Type] {
			seenUnverified[d.Type] = true
			res.Unverified = append(res.Unverified, d.Type)
		}
	}
	sort.Strings(res.Unverified)

	for _, actionID := range stage.RequiredActions {
		if e.actions == nil {
			res.Other = append(res.Other, fmt.Sprintf("required action %q not satisfied", actionID))
			continue
		}
		done, err := e.actions.ActionComplete(ctx, app, actionID)
		if err != nil {
			return Result{}, fmt.Errorf("requirement: check action %q: %w", actionID, err)
		}
		if !done {
			res.Other = append(res.Other, fmt.Sprintf("required action %q not satisfied", actionID))
		}
	}

	res.Met = len(res.MissingDocuments) == 0 && len(res.Unverified) == 0 && len(res.Other) == 0
	return res, nil
}

// EvaluateConditions evaluates a transition's ordered condition list
// against the application. An empty list is trivially satisfied. The
// sourceStage is the transition's source, used by requirements_met
// conditions.
func (e *Evaluator) EvaluateConditions(ctx context.Context, conds []model.Condition, app model.Application, sourceStage model.Stage) (bool, []string, error) {
	var issues []string
	for _, c := range conds {
		ok, err := e.evaluate(ctx, c, app, sourceStage)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			issues = append(issues, describeFailure(c))
		}
	}
	return len(issues) == 0, issues, nil
}

// evaluate interprets one condition node.
func (e *Evaluator) evaluate(ctx context.Context, c model.Condition, app model.Application, sourceStage model.Stage) (bool, error) {
	switch c.Kind {
	case model.CondDocumentVerified, model.CondDocumentPresent:
		docs, err := e.docs.DocumentsFor(ctx, app.ID)
		if err != nil {
			return false, fmt.Errorf("requirement: load documents for %q: %w", app.ID, err)
		}
		for _, d := range docs {
			if d.Type != c.DocumentType {
				continue
			}
			if c.Kind == model.CondDocumentPresent || d.Verified {
				return true, nil
			}
		}
		return false, nil

	case model.CondFieldEquals:
		return applicationField(app, c.Field) == c.Value, nil

	case model.CondFieldNotEquals:
		return applicationField(app, c.Field) != c.Value, nil

	case model.CondRequirementsMet:
		res, err := e.RequirementsMet(ctx, app, sourceStage)
		if err != nil {
			return false, err
		}
		return res.Met, nil

	case model.CondAnd:
		for _, child := range c.Children {
			ok, err := e.evaluate(ctx, child, app, sourceStage)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case model.CondOr:
		for _, child := range c.Children {
			ok, err := e.evaluate(ctx, child, app, sourceStage)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case model.CondNot:
		if len(c.Children) != 1 {
			return false, fmt.Errorf("requirement: condition not requires exactly one child")
		}
		ok, err := e.evaluate(ctx, c.Children[0], app, sourceStage)
		return !ok, err

	default:
		return false, fmt.Errorf("requirement: unknown condition kind %q", c.Kind)
	}
}

// applicationField resolves the small set of application fields a
// condition may reference.
func applicationField(app model.Application, field string) string {
	switch field {
	case "type", "application_type":
		return app.Type
	case "applicant_id":
		return app.ApplicantID
	default:
		return ""
	}
}

func describeFailure(c model.Condition) string {
	switch c.Kind {
	case model.CondDocumentVerified:
		return fmt.Sprintf("document %q is not verified", c.DocumentType)
	case model.CondDocumentPresent:
		return fmt.Sprintf("missing document %q", c.DocumentType)
	case model.CondFieldEquals:
		return fmt.Sprintf("field %q is not %q", c.Field, c.Value)
	case model.CondFieldNotEquals:
		return fmt.Sprintf("field %q is %q", c.Field, c.Value)
	case model.CondRequirementsMet:
		return "stage requirements are not met"
	default:
		return fmt.Sprintf("condition %q is not satisfied", c.Kind)
	}
}
