package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves it empty.
const DefaultTopicPrefix = "racelights"

// Topics builds the controller's topic names under a prefix.
//
//	t := mqtt.NewTopics("racelights")
//	t.Command("start") // "racelights/command/start"
type Topics struct {
	prefix string
}

// NewTopics returns builders rooted at prefix. Surrounding slashes are
// trimmed; an empty prefix means DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of every topic.
func (t Topics) Prefix() string {
	return t.prefix
}

func (t Topics) join(parts ...string) string {
	return t.prefix + "/" + strings.Join(parts, "/")
}

// Command is where remote consoles send an action.
func (t Topics) Command(action string) string { return t.join("command", action) }

// Ack is where the result of an action is published.
func (t Topics) Ack(action string) string { return t.join("ack", action) }

// SessionState carries the relay session state.
func (t Topics) SessionState() string { return t.join("state", "session") }

// SequenceState carries the sequence snapshot.
func (t Topics) SequenceState() string { return t.join("state", "sequence") }

// CountdownState carries the latest countdown phase.
func (t Topics) CountdownState() string { return t.join("state", "countdown") }

// Health carries controller health and the Last Will.
func (t Topics) Health() string { return t.join("health") }

// AllCommands matches every command topic.
func (t Topics) AllCommands() string { return t.join("command", "+") }

// ActionFromCommand returns the action of a command topic, or false if
// topic is not one.
func (t Topics) ActionFromCommand(topic string) (string, bool) {
	action, ok := strings.CutPrefix(topic, t.join("command", ""))
	if !ok || action == "" || strings.Contains(action, "/") {
		return "", false
	}
	return action, true
}
