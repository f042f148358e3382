package bridge

import (
	"ripple-chat/pkg/logger"
)

// Action on an OS notification.
type Action struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Notification is what the bridge asks the OS surface to show. Tag is the
// replacement key: showing a second notification with the same tag
// replaces the first instead of stacking.
type Notification struct {
	Tag        string            `json:"tag"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Persistent bool              `json:"persistent"`
	Silent     bool              `json:"silent"`
	Vibration  []int             `json:"vibration,omitempty"`
	Actions    []Action          `json:"actions,omitempty"`
	DeepLink   string            `json:"deep_link,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// Notifier is the OS notification surface.
type Notifier interface {
	Show(n Notification) error
	Close(tag string) error
}

// LogNotifier renders notifications to the log. Stands in where no real
// OS surface is attached, e.g. headless runs.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Show(notif Notification) error {
	n.log.Infof("notification [%s] %s: %s (persistent=%v actions=%d)",
		notif.Tag, notif.Title, notif.Body, notif.Persistent, len(notif.Actions))
	return nil
}

func (n *LogNotifier) Close(tag string) error {
	n.log.Infof("notification [%s] closed", tag)
	return nil
}
