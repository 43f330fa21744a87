package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/autotouch-core/internal/infrastructure/mqtt"
)

// CommandSubscriber is the subscribe half of the MQTT client.
type CommandSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// ExecuteCommand is the payload of autotouch/command/execute.
type ExecuteCommand struct {
	Action   string `json:"action"`
	DeviceID string `json:"device_id,omitempty"`
	Account  string `json:"account,omitempty"`
}

// SubscribeCommands lets remote clients start and stop runs over MQTT.
//
// Runs started this way carry OriginMQTT. Rejections (unknown sequence,
// already running) are logged and surface as handler errors; the outcome of
// an accepted run is visible on its state topic.
func (s *Supervisor) SubscribeCommands(sub CommandSubscriber) error {
	topics := s.topics
	if err := sub.Subscribe(topics.CommandExecute(), 1, s.handleExecuteCommand); err != nil {
		return fmt.Errorf("subscribing to execute commands: %w", err)
	}
	if err := sub.Subscribe(topics.CommandStop(), 1, s.handleStopCommand); err != nil {
		return fmt.Errorf("subscribing to stop commands: %w", err)
	}
	return nil
}

func (s *Supervisor) handleExecuteCommand(_ string, payload []byte) error {
	var cmd ExecuteCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decoding execute command: %w", err)
	}
	if cmd.Action == "" {
		return errors.New("execute command: action is required")
	}

	opts := []StartOption{WithDevice(cmd.DeviceID)}
	if cmd.Account != "" {
		opts = append(opts, WithAccount(cmd.Account))
	}
	h, err := s.Start(context.Background(), cmd.Action, OriginMQTT, opts...)
	if err != nil {
		s.logger.Warn("remote execute rejected", "action", cmd.Action, "account", cmd.Account, "error", err)
		return err
	}
	s.logger.Info("remote execute accepted", "action", cmd.Action, "run_id", h.ID())
	return nil
}

func (s *Supervisor) handleStopCommand(string, []byte) error {
	if id, ok := s.CancelActive(); ok {
		s.logger.Info("remote stop", "run_id", id)
	}
	return nil
}
