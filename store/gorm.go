package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/auditflow/auditflow/types"
)

// SessionRecord is the persisted session row.
type SessionRecord struct {
	SessionID   string `gorm:"primaryKey;size:64"`
	Query       string
	Attachments string // JSON array
	Stage       string `gorm:"size:64"`
	FinalResult string // JSON ComplianceResult, empty until terminal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AgentResultRecord is one persisted agent output, unique per
// (session, agent).
type AgentResultRecord struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  string `gorm:"size:64;index;uniqueIndex:idx_session_agent"`
	Agent      string `gorm:"size:64;uniqueIndex:idx_session_agent"`
	Status     string `gorm:"size:16"`
	Payload    string // JSON
	Error      string
	DurationMS int64
	CreatedAt  time.Time
}

// InteractionRecord is one persisted HITL audit entry.
type InteractionRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"size:64;index"`
	Timestamp time.Time
	Type      string `gorm:"size:32"`
	Prompt    string
	Response  string
	Status    string `gorm:"size:16"`
}

// GormStore persists sessions through gorm. The same schema works on
// SQLite and PostgreSQL; the driver is chosen at startup.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore migrates the schema and returns a ready store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&SessionRecord{}, &AgentResultRecord{}, &InteractionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "session_store")),
	}, nil
}

func (s *GormStore) CreateSession(ctx context.Context, sessionID, query string, attachments []string) error {
	data, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	record := SessionRecord{
		SessionID:   sessionID,
		Query:       query,
		Attachments: string(data),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *GormStore) UpdateStage(ctx context.Context, sessionID, stage string) error {
	res := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("session_id = ?", sessionID).
		Update("stage", stage)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound(sessionID)
	}
	return nil
}

func (s *GormStore) SaveAgentResult(ctx context.Context, sessionID string, result types.AgentResult) error {
	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	record := AgentResultRecord{
		SessionID:  sessionID,
		Agent:      result.Agent,
		Status:     string(result.Status),
		Payload:    string(payload),
		Error:      result.Error,
		DurationMS: result.Duration.Milliseconds(),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *GormStore) SaveHumanInteraction(ctx context.Context, sessionID string, interaction types.HumanInteraction) error {
	record := InteractionRecord{
		SessionID: sessionID,
		Timestamp: interaction.Timestamp,
		Type:      string(interaction.Type),
		Prompt:    interaction.Prompt,
		Response:  interaction.Response,
		Status:    string(interaction.Status),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *GormStore) SaveFinalResult(ctx context.Context, sessionID string, result *types.ComplianceResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal final result: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("session_id = ?", sessionID).
		Update("final_result", string(data))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound(sessionID)
	}
	return nil
}

func (s *GormStore) GetSession(ctx context.Context, sessionID string) (*types.SessionState, error) {
	var record SessionRecord
	err := s.db.WithContext(ctx).First(&record, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound(sessionID)
	}
	if err != nil {
		return nil, err
	}

	state := &types.SessionState{
		SessionID:         record.SessionID,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
		Query:             record.Query,
		Stage:             record.Stage,
		AgentOutputs:      make(map[string]types.AgentResult),
		HumanInteractions: []types.HumanInteraction{},
	}
	if record.Attachments != "" {
		if err := json.Unmarshal([]byte(record.Attachments), &state.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	if record.FinalResult != "" {
		var result types.ComplianceResult
		if err := json.Unmarshal([]byte(record.FinalResult), &result); err != nil {
			return nil, fmt.Errorf("unmarshal final result: %w", err)
		}
		state.FinalResult = &result
	}

	var agentRecords []AgentResultRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id").Find(&agentRecords).Error; err != nil {
		return nil, err
	}
	for _, ar := range agentRecords {
		state.AgentOutputs[ar.Agent] = types.AgentResult{
			Agent:    ar.Agent,
			Status:   types.ResultStatus(ar.Status),
			Payload:  types.RawPayload(ar.Payload),
			Error:    ar.Error,
			Duration: time.Duration(ar.DurationMS) * time.Millisecond,
		}
	}

	var interactions []InteractionRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id").Find(&interactions).Error; err != nil {
		return nil, err
	}
	for _, ir := range interactions {
		state.HumanInteractions = append(state.HumanInteractions, types.HumanInteraction{
			Timestamp: ir.Timestamp,
			Type:      types.HITLRequestType(ir.Type),
			Prompt:    ir.Prompt,
			Response:  ir.Response,
			Status:    types.InteractionStatus(ir.Status),
		})
	}

	return state, nil
}

func (s *GormStore) GetResult(ctx context.Context, sessionID string) (*types.ComplianceResult, error) {
	var record SessionRecord
	err := s.db.WithContext(ctx).First(&record, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound(sessionID)
	}
	if err != nil {
		return nil, err
	}
	if record.FinalResult == "" {
		return nil, ErrNotFound(sessionID)
	}

	var result types.ComplianceResult
	if err := json.Unmarshal([]byte(record.FinalResult), &result); err != nil {
		return nil, fmt.Errorf("unmarshal final result: %w", err)
	}
	return &result, nil
}
