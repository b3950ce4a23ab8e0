package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/store"
)

// AdjudicationResult is the claim outcome and where it sent the prescription
type AdjudicationResult struct {
	Prescription *prescription.Prescription `json:"prescription"`
	Claim        *claims.Claim              `json:"claim"`
	Response     *claims.Response           `json:"response"`
}

// AdjudicateClaim bills the prescription in INSURANCE_PENDING. The switch is
// called between two units of work so no transaction is held open across the
// network. Paid goes to FILLING, reject 75 to PRIOR_AUTH_PENDING and any
// other reject to INSURANCE_REJECTED. A timeout or open circuit returns the
// claim to pending, leaves the prescription untouched and reports a
// recoverable Unavailable error.
func (e *Engine) AdjudicateClaim(ctx context.Context, actor auth.Actor, id string) (*AdjudicationResult, error) {
	var (
		claimID string
		req     *claims.Request
	)
	_, err := e.run(ctx, "submit_claim", actor, auth.LevelTechnician, func(ctx context.Context, tx store.Tx, u *unit) error {
		p, err := e.load(ctx, tx, u, id)
		if err != nil {
			return err
		}
		if err := requireState(p, prescription.StateInsurancePending, prescription.StateFilling); err != nil {
			return err
		}
		if p.IsOnHold {
			return apperr.Precondition(apperr.CodeOnHold, "prescription %s is on hold: %s", p.ID, p.HoldReason)
		}
		plan, err := tx.GetPlan(ctx, p.InsurancePlanID)
		if err != nil {
			return err
		}

		c, err := latestClaim(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		fills, err := tx.ListFills(ctx, p.ID)
		if err != nil {
			return err
		}
		switch {
		case c != nil && c.Status == claims.StatusSubmitted:
			return apperr.Conflict(apperr.CodeDuplicateSubmission, "claim %s is already awaiting adjudication", c.ID)
		case c != nil && c.Status == claims.StatusPending:
		default:
			c = claims.NewClaim(p.ID, len(fills), plan.Coverage, u.now)
			if err := tx.InsertClaim(ctx, c); err != nil {
				return fmt.Errorf("insert claim: %w", err)
			}
		}
		if err := c.MarkSubmitted(u.now); err != nil {
			return err
		}
		if err := tx.UpdateClaim(ctx, c); err != nil {
			return fmt.Errorf("update claim: %w", err)
		}

		ingredient, fee := e.pricer.Price(p.DrugNDC, p.QuantityWritten)
		claimID = c.ID
		req = &claims.Request{
			ClaimID:           c.ID,
			PrescriptionID:    p.ID,
			FillNumber:        c.FillNumber,
			BIN:               c.BIN,
			PCN:               c.PCN,
			GroupID:           c.GroupID,
			MemberID:          c.MemberID,
			NDC:               p.DrugNDC,
			Quantity:          p.QuantityWritten,
			DaysSupply:        p.DaysSupply,
			PrescriberNPI:     p.PrescriberNPI,
			DAWCode:           p.DAWCode,
			IngredientCost:    ingredient,
			DispensingFee:     fee,
			ClarificationCode: c.ClarificationCode,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp, callErr := e.adjudicator.Submit(ctx, req)
	if callErr != nil {
		e.requeueClaim(ctx, actor, id, claimID, "switch failure")
		e.metrics.RecordFailure("adjudicate_claim", apperr.CodeOf(callErr))
		return nil, callErr
	}

	var out *AdjudicationResult
	_, err = e.run(ctx, "adjudicate_claim", actor, auth.LevelTechnician, func(ctx context.Context, tx store.Tx, u *unit) error {
		p, err := e.load(ctx, tx, u, id)
		if err != nil {
			return err
		}
		c, err := e.claimByID(ctx, tx, id, claimID)
		if err != nil {
			return err
		}
		if err := c.ApplyResponse(req, resp, u.now); err != nil {
			return err
		}
		if err := tx.UpdateClaim(ctx, c); err != nil {
			return fmt.Errorf("update claim: %w", err)
		}
		u.record(c.ID, &audit.ClaimAdjudication{
			PrescriptionID:  p.ID,
			Status:          string(c.Status),
			RejectCodes:     c.RejectCodes(),
			SubmissionCount: c.SubmissionCount,
			InsurancePaid:   c.InsurancePaid.StringFixed(2),
			PatientPay:      c.Pay.Total.StringFixed(2),
		})
		if err := u.emit(prescription.TopicWorkflowEvents, p, prescription.EventClaimAdjudicated, prescription.ClaimAdjudicatedData{
			PrescriptionID: p.ID,
			ClaimID:        c.ID,
			Status:         string(c.Status),
			RejectCodes:    c.RejectCodes(),
		}); err != nil {
			return err
		}

		switch {
		case c.Status.IsPaid():
			if err := e.transition(u, p, prescription.StateFilling, "claim "+string(c.Status), ""); err != nil {
				return err
			}
			if _, err := e.openFill(ctx, tx, u, p); err != nil {
				return err
			}
		case resp.HasRejectCode(claims.RejectPriorAuthRequired):
			if err := e.transition(u, p, prescription.StatePriorAuthPending, "reject 75: prior authorization required", ""); err != nil {
				return err
			}
		default:
			if err := e.transition(u, p, prescription.StateInsuranceRejected,
				"claim rejected: "+strings.Join(c.RejectCodes(), ","), ""); err != nil {
				return err
			}
		}
		out = &AdjudicationResult{Prescription: p, Claim: c, Response: resp}
		return nil
	})
	if err != nil {
		// an unapplied response must not leave the claim submitted
		e.requeueClaim(ctx, actor, id, claimID, "unapplied response")
		return nil, err
	}
	e.metrics.RecordClaim(string(out.Claim.Status))
	return out, nil
}

// requeueClaim returns a submitted claim to pending so it can be resubmitted
func (e *Engine) requeueClaim(ctx context.Context, actor auth.Actor, prescriptionID, claimID, why string) {
	_, err := e.run(ctx, "requeue_claim", actor, auth.LevelTechnician, func(ctx context.Context, tx store.Tx, u *unit) error {
		c, err := e.claimByID(ctx, tx, prescriptionID, claimID)
		if err != nil {
			return err
		}
		if c.Status != claims.StatusSubmitted {
			return nil
		}
		c.Requeue(u.now)
		return tx.UpdateClaim(ctx, c)
	})
	if err != nil {
		e.logger.Error("failed to requeue claim",
			zap.String("claim_id", claimID), zap.String("after", why), zap.Error(err))
	}
}

func (e *Engine) claimByID(ctx context.Context, r store.Reader, prescriptionID, claimID string) (*claims.Claim, error) {
	cs, err := r.ListClaims(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	for _, c := range cs {
		if c.ID == claimID {
			return c, nil
		}
	}
	return nil, apperr.NotFound("claim", claimID)
}

// ResolveRejection works the latest rejected claim. resubmit and override
// return the claim to pending with a clarification code and the prescription
// to INSURANCE_PENDING; prior_auth parks it in PRIOR_AUTH_PENDING; cash
// reverses the claim, unlinks insurance and releases the prescription to FILLING.
func (e *Engine) ResolveRejection(ctx context.Context, actor auth.Actor, id string, action claims.Action, clarificationCode string) (*prescription.Prescription, error) {
	return e.step(ctx, "resolve_rejection", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		if p.State != prescription.StateInsuranceRejected {
			return apperr.Precondition(apperr.CodeClaimNotResolvable,
				"prescription %s is %s, only INSURANCE_REJECTED can be resolved", p.ID, p.State)
		}
		c, err := latestClaim(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if c == nil {
			return apperr.NotFound("claim", p.ID)
		}
		outcome, err := c.Resolve(action, clarificationCode, u.now)
		if err != nil {
			return err
		}
		if err := tx.UpdateClaim(ctx, c); err != nil {
			return fmt.Errorf("update claim: %w", err)
		}
		u.record(c.ID, &audit.ClaimResolution{
			PrescriptionID:    p.ID,
			Resolution:        string(action),
			ClarificationCode: clarificationCode,
		})

		switch outcome {
		case claims.OutcomeResubmit:
			return e.transition(u, p, prescription.StateInsurancePending, "claim "+string(action), "")
		case claims.OutcomePriorAuth:
			return e.transition(u, p, prescription.StatePriorAuthPending, "prior authorization requested", "")
		default:
			p.UnlinkInsurance(u.now)
			if err := e.transition(u, p, prescription.StateFilling, "converted to cash", ""); err != nil {
				return err
			}
			_, err := e.openFill(ctx, tx, u, p)
			return err
		}
	})
}

// RecordPriorAuth records the payer decision on a pending prior authorization
func (e *Engine) RecordPriorAuth(ctx context.Context, actor auth.Actor, id string, approved bool, authNumber, notes string) (*prescription.Prescription, error) {
	return e.step(ctx, "record_prior_auth", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		to := prescription.StatePriorAuthApproved
		if !approved {
			to = prescription.StateInsuranceRejected
		}
		if err := requireState(p, prescription.StatePriorAuthPending, to); err != nil {
			return err
		}
		if approved && strings.TrimSpace(authNumber) == "" {
			return apperr.Validation("an approved prior authorization needs an authorization number")
		}

		c, err := latestClaim(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if c != nil {
			if approved {
				c.PriorAuthNumber = authNumber
				c.UpdatedAt = u.now
				if err := tx.UpdateClaim(ctx, c); err != nil {
					return fmt.Errorf("update claim: %w", err)
				}
			}
			u.record(c.ID, &audit.PriorAuth{PrescriptionID: p.ID, Approved: approved, AuthNumber: authNumber})
		}

		reason := "prior authorization approved"
		if !approved {
			reason = "prior authorization denied"
		}
		return e.transition(u, p, to, reason, notes)
	})
}

// ReleaseToFill moves an approved prior authorization on to FILLING
func (e *Engine) ReleaseToFill(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
	return e.step(ctx, "release_to_fill", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		if err := requireState(p, prescription.StatePriorAuthApproved, prescription.StateFilling); err != nil {
			return err
		}
		if err := e.transition(u, p, prescription.StateFilling, "released after prior authorization", ""); err != nil {
			return err
		}
		_, err := e.openFill(ctx, tx, u, p)
		return err
	})
}

// RejectionQueue lists rejected claims still waiting on a resolution, oldest first
func (e *Engine) RejectionQueue(ctx context.Context, actor auth.Actor, limit int) ([]claims.QueueItem, error) {
	if err := actor.Require(auth.LevelTechnician, "rejection_queue"); err != nil {
		return nil, err
	}
	rejected, err := e.store.ListClaimsByStatus(ctx, claims.StatusRejected, 0)
	if err != nil {
		return nil, err
	}
	var open []*claims.Claim
	for _, c := range rejected {
		p, err := e.store.GetPrescription(ctx, c.PrescriptionID)
		if err != nil {
			return nil, err
		}
		if p.State != prescription.StateInsuranceRejected {
			continue
		}
		latest, err := latestClaim(ctx, e.store, p.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.ID == c.ID {
			open = append(open, c)
		}
	}
	items := claims.BuildQueue(open)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
