package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"go.uber.org/zap"

	"mcp-calorie-log/internal/confirm"
	"mcp-calorie-log/internal/ledger"
	"mcp-calorie-log/internal/models"
)

const maxTrackedResets = 256

// stateIgnored is reported for signals that did not reach any interaction.
const stateIgnored = "ignored"

// resetJob is one reset waiting on its confirmation.
type resetJob struct {
	user string
	day  models.Day
	done chan struct{}

	// Set before done is closed.
	state   confirm.State
	cleared int
	err     error
}

type resetOutcome struct {
	InteractionID string `json:"interaction_id"`
	State         string `json:"state"`
	Cleared       int    `json:"cleared_calories,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (j *resetJob) outcome(id string) resetOutcome {
	select {
	case <-j.done:
	default:
		return resetOutcome{InteractionID: id, State: string(confirm.StatePending)}
	}
	out := resetOutcome{InteractionID: id, State: string(j.state), Cleared: j.cleared}
	if j.err != nil {
		out.Error = j.err.Error()
	}
	return out
}

// handleResetDay asks for confirmation before clearing today's record. The
// wait runs in the background; the answer arrives through the react tool.
func (s *CalorieLogServer) handleResetDay(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ResetDayParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := requireUser(params.UserID); err != nil {
		return nil, err
	}

	day := s.book.Today()
	rec := s.book.Read(params.UserID, day)
	if rec.TotalCalories == 0 {
		return nil, &ledger.OpError{Op: "reset", Err: ledger.ErrNothingToReset, Count: len(rec.Foods), Total: rec.TotalCalories}
	}

	p, err := s.confirms.Begin(params.InteractionID, params.UserID)
	if err != nil {
		if errors.Is(err, confirm.ErrDuplicate) {
			return nil, &toolError{status: http.StatusConflict, err: err}
		}
		return nil, badRequest(err)
	}

	job := &resetJob{user: params.UserID, day: day, done: make(chan struct{})}
	s.trackReset(p.ID, job)

	s.wg.Add(1)
	go s.awaitReset(p, job)

	return s.createJSONResponse(map[string]interface{}{
		"interaction_id": p.ID,
		"state":          confirm.StatePending,
		"prompt": fmt.Sprintf("Reset today's log of %d calories across %d entries? Accept or reject within %s.",
			rec.TotalCalories, len(rec.Foods), s.confirms.Timeout()),
		"expires_at":     formatExpiry(p.Deadline),
		"total_calories": rec.TotalCalories,
	})
}

func (s *CalorieLogServer) awaitReset(p *confirm.Pending, job *resetJob) {
	defer s.wg.Done()
	defer close(job.done)

	job.state = p.Wait(s.ctx)
	if job.state != confirm.StateConfirmed {
		s.log.Info("reset not confirmed", zap.String("interaction", p.ID), zap.String("state", string(job.state)))
		return
	}

	// The user already confirmed; finish the write even during shutdown.
	ctx := context.WithoutCancel(s.ctx)
	cleared, err := s.book.Reset(ctx, job.user, job.day)
	if err != nil {
		job.err = err
		return
	}
	job.cleared = cleared.TotalCalories
}

func (s *CalorieLogServer) handleReact(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ReactParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := requireUser(params.UserID); err != nil {
		return nil, err
	}

	if !s.confirms.Signal(params.InteractionID, params.UserID, params.Accept) {
		return s.createJSONResponse(resetOutcome{InteractionID: params.InteractionID, State: stateIgnored})
	}

	job := s.lookupReset(params.InteractionID)
	if job == nil {
		state, _ := s.confirms.Status(params.InteractionID)
		return s.createJSONResponse(resetOutcome{InteractionID: params.InteractionID, State: string(state)})
	}

	select {
	case <-job.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.createJSONResponse(job.outcome(params.InteractionID))
}

func (s *CalorieLogServer) handleConfirmationStatus(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ConfirmationStatusParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	if job := s.lookupReset(params.InteractionID); job != nil {
		return s.createJSONResponse(job.outcome(params.InteractionID))
	}
	state, ok := s.confirms.Status(params.InteractionID)
	if !ok {
		return nil, &toolError{status: http.StatusNotFound, err: fmt.Errorf("unknown interaction: %s", params.InteractionID)}
	}
	return s.createJSONResponse(resetOutcome{InteractionID: params.InteractionID, State: string(state)})
}

func (s *CalorieLogServer) trackReset(id string, job *resetJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resets[id]; !ok {
		s.order = append(s.order, id)
	}
	s.resets[id] = job
	for len(s.order) > maxTrackedResets {
		delete(s.resets, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *CalorieLogServer) lookupReset(id string) *resetJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets[id]
}
