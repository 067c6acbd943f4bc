package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	// Pass events
	EventPassStarted   EventType = "pass.started"
	EventPassCompleted EventType = "pass.completed"
	EventPassFailed    EventType = "pass.failed"

	// Circle events
	EventCircleEvaluated  EventType = "circle.evaluated"
	EventCircleFailed     EventType = "circle.failed"
	EventProvisionStarted EventType = "circle.provision_started"
	EventProvisionFailed  EventType = "circle.provision_failed"

	// Configuration events
	EventCirclesReloaded EventType = "config.circles_reloaded"

	// Security events
	EventAuthenticationFailed EventType = "security.auth_failed"
)

// EventSeverity represents the severity level of an event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// Event represents an audit event
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Severity  EventSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`

	RequestID string `json:"request_id,omitempty"`
	PassID    string `json:"pass_id,omitempty"`
	CircleID  string `json:"circle_id,omitempty"`

	Action      string                 `json:"action"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// EventStream keeps a bounded in-memory audit trail of passes
type EventStream struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	events    []Event
	maxSize   int
	retention time.Duration
}

// EventStreamConfig holds configuration for the event stream
type EventStreamConfig struct {
	MaxSize   int           // Maximum number of events to keep in memory
	Retention time.Duration // How long to retain events, zero keeps them until evicted by MaxSize
}

// NewEventStream creates a new event stream
func NewEventStream(cfg EventStreamConfig, logger *zap.Logger) *EventStream {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventStream{
		logger:    logger,
		events:    make([]Event, 0, cfg.MaxSize),
		maxSize:   cfg.MaxSize,
		retention: cfg.Retention,
	}
}

// RecordEvent records a new event to the stream
func (es *EventStream) RecordEvent(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = GenerateRequestID()
	}
	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}
	if event.PassID == "" {
		event.PassID = GetPassID(ctx)
	}
	if event.CircleID == "" {
		event.CircleID = GetCircleID(ctx)
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	es.events = append(es.events, event)
	es.evictLocked(event.Timestamp)

	es.logEvent(event)
}

// evictLocked drops events beyond maxSize or older than retention
func (es *EventStream) evictLocked(now time.Time) {
	if len(es.events) > es.maxSize {
		es.events = es.events[len(es.events)-es.maxSize:]
	}
	if es.retention <= 0 {
		return
	}
	cutoff := now.Add(-es.retention)
	i := 0
	for i < len(es.events) && es.events[i].Timestamp.Before(cutoff) {
		i++
	}
	es.events = es.events[i:]
}

func (es *EventStream) logEvent(event Event) {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("action", event.Action),
		zap.Bool("success", event.Success),
	}
	if event.PassID != "" {
		fields = append(fields, zap.String("pass_id", event.PassID))
	}
	if event.CircleID != "" {
		fields = append(fields, zap.String("circle", event.CircleID))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}

	switch event.Severity {
	case SeverityWarning:
		es.logger.Warn(event.Description, fields...)
	case SeverityError:
		es.logger.Error(event.Description, fields...)
	case SeverityCritical:
		es.logger.Error(fmt.Sprintf("CRITICAL: %s", event.Description), fields...)
	default:
		es.logger.Debug(event.Description, fields...)
	}
}

// GetEvents retrieves events with optional filtering, newest last
func (es *EventStream) GetEvents(filter EventFilter) []Event {
	es.mu.RLock()
	defer es.mu.RUnlock()

	result := make([]Event, 0)
	for _, event := range es.events {
		if filter.Matches(event) {
			result = append(result, event)
		}
	}

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result
}

// EventFilter defines filtering criteria for events
type EventFilter struct {
	Types      []EventType
	Severities []EventSeverity
	PassID     string
	CircleID   string
	StartTime  time.Time
	Limit      int
}

// Matches checks if an event matches the filter
func (f EventFilter) Matches(event Event) bool {
	if len(f.Types) > 0 && !containsType(f.Types, event.Type) {
		return false
	}

	if len(f.Severities) > 0 {
		found := false
		for _, s := range f.Severities {
			if event.Severity == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.PassID != "" && event.PassID != f.PassID {
		return false
	}
	if f.CircleID != "" && event.CircleID != f.CircleID {
		return false
	}
	if !f.StartTime.IsZero() && event.Timestamp.Before(f.StartTime) {
		return false
	}

	return true
}

func containsType(types []EventType, t EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// NewPassStartedEvent creates a pass started event
func NewPassStartedEvent(passID, source string, circles int) Event {
	return Event{
		Type:        EventPassStarted,
		Severity:    SeverityInfo,
		PassID:      passID,
		Action:      "pass",
		Description: fmt.Sprintf("Pass %s started by %s over %d circles", passID, source, circles),
		Metadata: map[string]interface{}{
			"source":  source,
			"circles": circles,
		},
		Success: true,
	}
}

// NewPassCompletedEvent creates a pass completed event
func NewPassCompletedEvent(passID string, circles, failed, provisioned int, duration time.Duration) Event {
	severity := SeverityInfo
	if failed > 0 {
		severity = SeverityWarning
	}

	return Event{
		Type:        EventPassCompleted,
		Severity:    severity,
		PassID:      passID,
		Action:      "pass",
		Description: fmt.Sprintf("Pass %s completed: %d circles, %d failed, %d provisioned", passID, circles, failed, provisioned),
		Metadata: map[string]interface{}{
			"circles":     circles,
			"failed":      failed,
			"provisioned": provisioned,
			"duration_ms": duration.Milliseconds(),
		},
		Success: failed == 0,
	}
}

// NewPassFailedEvent creates an event for a pass that could not start
func NewPassFailedEvent(passID, source string, err error) Event {
	return Event{
		Type:        EventPassFailed,
		Severity:    SeverityError,
		PassID:      passID,
		Action:      "pass",
		Description: fmt.Sprintf("Pass %s started by %s could not run", passID, source),
		Success:     false,
		Error:       err.Error(),
	}
}

// NewCircleEvaluatedEvent creates a circle evaluated event
func NewCircleEvaluatedEvent(circleID string, needsProvision, triggered bool, errMsg string) Event {
	event := Event{
		Type:        EventCircleEvaluated,
		Severity:    SeverityInfo,
		CircleID:    circleID,
		Action:      "evaluate",
		Description: fmt.Sprintf("Circle %s evaluated (needs provision: %t, triggered: %t)", circleID, needsProvision, triggered),
		Metadata: map[string]interface{}{
			"needs_provision":     needsProvision,
			"provision_triggered": triggered,
		},
		Success: errMsg == "",
		Error:   errMsg,
	}
	if errMsg != "" {
		event.Type = EventCircleFailed
		event.Severity = SeverityWarning
	}
	return event
}

// NewProvisionEvent creates an event for a provisioning request
func NewProvisionEvent(circleID, stage string, pipelineID int, runID string, err error) Event {
	event := Event{
		Type:        EventProvisionStarted,
		Severity:    SeverityInfo,
		CircleID:    circleID,
		Action:      "provision",
		Description: fmt.Sprintf("Provisioning run %s started for circle %s stage %s", runID, circleID, stage),
		Metadata: map[string]interface{}{
			"stage":       stage,
			"pipeline_id": pipelineID,
			"run_id":      runID,
		},
		Success: true,
	}
	if err != nil {
		event.Type = EventProvisionFailed
		event.Severity = SeverityError
		event.Description = fmt.Sprintf("Provisioning failed for circle %s stage %s", circleID, stage)
		event.Success = false
		event.Error = err.Error()
	}
	return event
}

// NewAuthenticationFailedEvent creates an authentication failed event
func NewAuthenticationFailedEvent(actorID, reason string) Event {
	return Event{
		Type:        EventAuthenticationFailed,
		Severity:    SeverityWarning,
		Action:      "authenticate",
		Description: fmt.Sprintf("Authentication failed for %s: %s", actorID, reason),
		Metadata: map[string]interface{}{
			"actor":  actorID,
			"reason": reason,
		},
		Success: false,
		Error:   reason,
	}
}

// NewCirclesReloadedEvent creates an event for a reloaded circles document
func NewCirclesReloadedEvent(path string, circles []string) Event {
	return Event{
		Type:        EventCirclesReloaded,
		Severity:    SeverityInfo,
		Action:      "reload",
		Description: fmt.Sprintf("Circles file %s reloaded with %d circles", path, len(circles)),
		Metadata: map[string]interface{}{
			"path":    path,
			"circles": circles,
		},
		Success: true,
	}
}
