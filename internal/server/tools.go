// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"go.uber.org/zap"

	"mcp-calorie-log/internal/analysis"
	"mcp-calorie-log/internal/models"
)

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type LogFoodParams struct {
	UserID   string `json:"user_id" description:"Chat platform user id"`
	Calories int    `json:"calories" description:"Calories for the food item, must be positive"`
	FoodName string `json:"food_name,omitempty" description:"Name of the food (defaults to Unknown food)"`
}

type IngestAnalysisParams struct {
	UserID string `json:"user_id" description:"Chat platform user id"`
	analysis.IngestInput
	Commit bool `json:"commit,omitempty" description:"Log the analyzed calories to today's record"`
}

type ClassifyErrorParams struct {
	ErrorText string `json:"error_text" description:"Error text returned by the analysis provider"`
}

type EditFoodParams struct {
	UserID   string  `json:"user_id" description:"Chat platform user id"`
	Position int     `json:"position" description:"1-based entry number as shown in today's list"`
	Calories int     `json:"calories" description:"New calories, must be positive"`
	FoodName *string `json:"food_name,omitempty" description:"New name, keeps the old one when omitted"`
}

type RemoveFoodParams struct {
	UserID   string `json:"user_id" description:"Chat platform user id"`
	Position int    `json:"position" description:"1-based entry number as shown in today's list"`
}

type GetDayParams struct {
	UserID string `json:"user_id" description:"Chat platform user id"`
	Date   string `json:"date,omitempty" description:"Day to show (YYYY-MM-DD), defaults to today"`
}

type ResetDayParams struct {
	UserID        string `json:"user_id" description:"Chat platform user id"`
	InteractionID string `json:"interaction_id,omitempty" description:"Id of the prompt message; generated when omitted"`
}

type ReactParams struct {
	UserID        string `json:"user_id" description:"User who reacted"`
	InteractionID string `json:"interaction_id" description:"Id of the prompt message reacted to"`
	Accept        bool   `json:"accept" description:"true for accept, false for reject"`
}

type ConfirmationStatusParams struct {
	InteractionID string `json:"interaction_id" description:"Id of the prompt message"`
}

type AnalysisPromptParams struct {
	Mode        string `json:"mode" description:"image or text"`
	Description string `json:"description,omitempty" description:"User description or food text"`
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	// Convert the Arguments map to JSON bytes, then unmarshal to target
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return badRequest(fmt.Errorf("failed to marshal arguments: %w", err))
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return badRequest(fmt.Errorf("invalid parameters: %w", err))
	}

	return nil
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return badRequest(errors.New("user_id is required"))
	}
	return nil
}

// positionedEntry is a FoodEntry with its current display position.
type positionedEntry struct {
	Position int `json:"position"`
	models.FoodEntry
}

func listing(rec models.DailyRecord) []positionedEntry {
	out := make([]positionedEntry, len(rec.Foods))
	for i, f := range rec.Foods {
		out[i] = positionedEntry{Position: i + 1, FoodEntry: f}
	}
	return out
}

// handleLogFood logs a manual entry for today.
func (s *CalorieLogServer) handleLogFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LogFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := requireUser(params.UserID); err != nil {
		return nil, err
	}

	day := s.book.Today()
	added, err := s.book.Add(ctx, params.UserID, day, params.Calories, params.FoodName)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{
		"date":           day,
		"entry":          positionedEntry{Position: added.Position, FoodEntry: added.Entry},
		"total_calories": added.Total,
	})
}

// handleIngestAnalysis normalizes a model response, optionally logging it.
func (s *CalorieLogServer) handleIngestAnalysis(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params IngestAnalysisParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	rec := analysis.Ingest(params.IngestInput)
	if rec.Degraded() {
		s.log.Warn("analysis response could not be parsed, using fallback",
			zap.Int("calories", rec.Calories), zap.Int("response_len", len(params.ResponseText)))
	}

	result := map[string]interface{}{
		"analysis":  rec,
		"committed": false,
	}

	if params.Commit && rec.Kind != models.KindFailed && rec.Calories > 0 {
		if err := requireUser(params.UserID); err != nil {
			return nil, err
		}
		added, err := s.book.Add(ctx, params.UserID, s.book.Today(), rec.Calories, rec.FoodName)
		if err != nil {
			return nil, err
		}
		result["committed"] = true
		result["entry"] = positionedEntry{Position: added.Position, FoodEntry: added.Entry}
		result["total_calories"] = added.Total
	}

	return s.createJSONResponse(result)
}

func (s *CalorieLogServer) handleClassifyError(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ClassifyErrorParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	return s.createJSONResponse(analysis.ClassifyError(params.ErrorText))
}

func (s *CalorieLogServer) handleEditFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params EditFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := requireUser(params.UserID); err != nil {
		return nil, err
	}

	res, err := s.book.Edit(ctx, params.UserID, s.book.Today(), params.Position, params.Calories, params.FoodName)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(res)
}

func (s *CalorieLogServer) handleRemoveFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params RemoveFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := requireUser(params.UserID); err != nil {
		return nil, err
	}

	removed, err := s.book.Remove(ctx, params.UserID, s.book.Today(), params.Position)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{
		"removed":        removed.Entry,
		"total_calories": removed.Total,
	})
}

func (s *CalorieLogServer) handleGetDay(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetDayParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := requireUser(params.UserID); err != nil {
		return nil, err
	}

	day := s.book.Today()
	if params.Date != "" {
		d, err := models.ParseDay(params.Date)
		if err != nil {
			return nil, badRequest(err)
		}
		day = d
	}

	rec := s.book.Read(params.UserID, day)
	return s.createJSONResponse(map[string]interface{}{
		"date":           day,
		"total_calories": rec.TotalCalories,
		"foods":          listing(rec),
	})
}

func (s *CalorieLogServer) handleAnalysisPrompt(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AnalysisPromptParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	var prompt string
	switch params.Mode {
	case "", "image":
		prompt = analysis.ImagePrompt(params.Description)
	case "text":
		if strings.TrimSpace(params.Description) == "" {
			return nil, badRequest(errors.New("description is required for text mode"))
		}
		prompt = analysis.TextPrompt(params.Description)
	default:
		return nil, badRequest(fmt.Errorf("unknown mode %q (want image or text)", params.Mode))
	}
	return s.createJSONResponse(map[string]string{"prompt": prompt})
}

func (s *CalorieLogServer) registerTools() {
	s.tools = map[string]toolHandler{
		"log_food":            s.handleLogFood,
		"ingest_analysis":     s.handleIngestAnalysis,
		"classify_error":      s.handleClassifyError,
		"edit_food":           s.handleEditFood,
		"remove_food":         s.handleRemoveFood,
		"get_day":             s.handleGetDay,
		"reset_day":           s.handleResetDay,
		"react":               s.handleReact,
		"confirmation_status": s.handleConfirmationStatus,
		"analysis_prompt":     s.handleAnalysisPrompt,
	}
	for name := range s.tools {
		s.log.Debug("registered tool", zap.String("name", name))
	}
}

// formatExpiry renders a confirmation deadline for clients.
func formatExpiry(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
