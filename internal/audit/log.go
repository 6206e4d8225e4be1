package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"duetrack.org/internal/auth"
	"duetrack.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Record writes an audit entry for a state change, enriched with request and
// actor context. Audit is fire-and-forget: callers ignore the returned error
// and a failed audit write never rolls back the triggering mutation.
func Record(ctx context.Context, action, resourceType, resourceID string, fields map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("audit action is required")
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"action": action,
	}
	if resourceType != "" {
		entry["resource_type"] = resourceType
	}
	if resourceID != "" {
		entry["resource_id"] = resourceID
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["actor_user_id"] = userID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
