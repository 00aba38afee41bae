package services

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// NotifyLevel is the severity of an operator notification
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifySuccess NotifyLevel = "success"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

// Notifier tells the operator about something that happened outside their request
type Notifier interface {
	Notify(level NotifyLevel, title, message string)
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a notifier over the application logger
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(level NotifyLevel, title, message string) {
	entry := n.logger.WithFields(logrus.Fields{
		"notify": string(level),
		"title":  title,
	})
	switch level {
	case NotifyError:
		entry.Error(message)
	case NotifyWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// Notification is one recorded notification
type Notification struct {
	Level   NotifyLevel
	Title   string
	Message string
}

// RecordingNotifier keeps notifications in memory
type RecordingNotifier struct {
	mu            sync.Mutex
	Notifications []Notification
}

func (n *RecordingNotifier) Notify(level NotifyLevel, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notifications = append(n.Notifications, Notification{Level: level, Title: title, Message: message})
}

// Last returns the most recent notification
func (n *RecordingNotifier) Last() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.Notifications) == 0 {
		return Notification{}, false
	}
	return n.Notifications[len(n.Notifications)-1], true
}
