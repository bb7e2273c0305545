package logger

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// AuditEvent is one security-relevant occurrence on the auth surface.
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string
	IPAddress     string
	Device        string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes structured audit records through the application
// logger. Every record shares the "audit" message so log pipelines can route
// on one key, with audit_type distinguishing the record shape.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (al *AuditLogger) emit(level slog.Level, attrs []slog.Attr) {
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

func timestampAttr() slog.Attr {
	return slog.String("timestamp", time.Now().UTC().Format(time.RFC3339))
}

// LogAuthAttempt records a credential-path event: login outcomes, token
// refreshes, lockouts. Failures log at Warn so they stand out without a
// filter on the payload.
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		timestampAttr(),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Device != "" {
		attrs = append(attrs, slog.String("device", event.Device))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.emit(level, attrs)
}

// LogLoginDecision records the scored outcome of one login attempt. Blocked
// outcomes log at Warn so alerting can key off the level alone.
func (al *AuditLogger) LogLoginDecision(userID, email, ip, device string, score int, decision string, signals []string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "login_decision"),
		slog.String("user_id", userID),
		slog.String("email", SanitizedEmail(email)),
		slog.String("ip_address", ip),
		slog.String("device", device),
		slog.Int("risk_score", score),
		slog.String("decision", decision),
		timestampAttr(),
	}
	if len(signals) > 0 {
		attrs = append(attrs, slog.String("signals", strings.Join(signals, ",")))
	}

	level := slog.LevelInfo
	if decision == "blocked" {
		level = slog.LevelWarn
	}
	al.emit(level, attrs)
}

// LogPasswordChange records a password change or reset attempt.
func (al *AuditLogger) LogPasswordChange(userID, ipAddress string, success bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "password"),
		slog.String("event_type", "password_change"),
		slog.Bool("success", success),
		slog.String("user_id", userID),
		timestampAttr(),
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	al.emit(level, attrs)
}

// LogAccountAction records account lifecycle events: registration, email
// verification, TOTP changes, logout.
func (al *AuditLogger) LogAccountAction(eventType, userID, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
		timestampAttr(),
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.emit(slog.LevelInfo, attrs)
}
