package mqtt

import "fmt"

// TopicPrefix is the root of every autotouch topic.
const TopicPrefix = "autotouch"

// Topics provides builders for autotouch MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.RunState("3f2a...")
//	// Returns: "autotouch/runs/3f2a.../state"
type Topics struct{}

// RunState returns the topic carrying lifecycle events for one run.
func (Topics) RunState(runID string) string {
	return fmt.Sprintf("%s/runs/%s/state", TopicPrefix, runID)
}

// AllRunStates matches the state topic of every run.
func (Topics) AllRunStates() string {
	return TopicPrefix + "/runs/+/state"
}

// CommandExecute is the topic remote clients publish to start a sequence.
func (Topics) CommandExecute() string {
	return TopicPrefix + "/command/execute"
}

// CommandStop is the topic remote clients publish to stop the active run.
func (Topics) CommandStop() string {
	return TopicPrefix + "/command/stop"
}

// AllCommands matches every command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/#"
}

// SystemStatus carries the retained online/offline status of the engine.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}
