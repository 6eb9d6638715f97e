package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"SnipeFlow/internal/domain/models"
	"SnipeFlow/pkg/logger"
)

// Operator command actions accepted on the ops topic.
const (
	CmdActivate = "activate"
	CmdEscalate = "escalate"
	CmdResolve  = "resolve"
	CmdDrill    = "drill"
)

// OpsCommand is one operator instruction from the command topic.
type OpsCommand struct {
	Action     string `json:"action"`
	ProtocolID string `json:"protocolId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Operator   string `json:"operator"`
	Reason     string `json:"reason,omitempty"`
}

// CommandHandler consumes operator commands from Kafka and drives the
// emergency coordinator. It satisfies the consumer's MessageHandler
// contract; a malformed command is an error so the consumer can retry
// or dead-letter it.
type CommandHandler struct {
	coordinator *EmergencyCoordinator
	topic       string
	log         *logger.Logger
}

// NewCommandHandler creates a handler bound to topic.
func NewCommandHandler(coordinator *EmergencyCoordinator, topic string, log *logger.Logger) *CommandHandler {
	return &CommandHandler{coordinator: coordinator, topic: topic, log: log}
}

// Topic returns the command topic this handler consumes.
func (h *CommandHandler) Topic() string {
	return h.topic
}

// Handle decodes and executes one command.
func (h *CommandHandler) Handle(ctx context.Context, data []byte) error {
	var cmd OpsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	if cmd.Operator == "" {
		return fmt.Errorf("command missing operator")
	}

	h.log.Info("ops command received",
		logger.String("action", cmd.Action),
		logger.String("operator", cmd.Operator))

	switch cmd.Action {
	case CmdActivate:
		session, err := h.coordinator.ActivateProtocol(ctx, cmd.ProtocolID, cmd.Operator, cmd.Reason)
		if err != nil {
			return fmt.Errorf("activate %s: %w", cmd.ProtocolID, err)
		}
		h.log.Warn("emergency activated by operator",
			logger.String("session", session.ID),
			logger.String("protocol", cmd.ProtocolID))
		return nil
	case CmdEscalate:
		if err := h.coordinator.Escalate(ctx, cmd.SessionID, cmd.Operator, cmd.Reason); err != nil {
			return fmt.Errorf("escalate %s: %w", cmd.SessionID, err)
		}
		return nil
	case CmdResolve:
		if err := h.coordinator.Resolve(ctx, cmd.SessionID, models.ResolutionManual, cmd.Operator); err != nil {
			return fmt.Errorf("resolve %s: %w", cmd.SessionID, err)
		}
		return nil
	case CmdDrill:
		result := h.coordinator.ExecuteDrill(ctx, cmd.ProtocolID)
		if !result.Success {
			h.log.Warn("drill surfaced issues",
				logger.String("protocol", cmd.ProtocolID),
				logger.Int("issues", len(result.Issues)))
		}
		return nil
	default:
		return fmt.Errorf("unknown command action %q", cmd.Action)
	}
}
