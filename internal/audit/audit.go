package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/avatar-service/pkg/log"
)

// Audit actions for avatar-service.
const (
	ActionAvatarUpdate    = "avatar.update"
	ActionAvatarReset     = "avatar.reset"
	ActionAvatarProcessed = "avatar.processed"
	ActionAvatarsEnable   = "account.avatars_enable"
	ActionAvatarsDisable  = "account.avatars_disable"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
// actorID is the authenticated caller; targetID is the affected entity,
// which differs from the actor for consumer-driven and admin actions.
// The actor has its own field so it never repeats the user_id the
// request logger may already carry.
func Log(ctx context.Context, action, actorID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldActorID, actorID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, actorID, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldActorID, actorID).
		Str(FieldTargetID, targetID).
		Str(FieldDetail, detail).
		Msg(msg)
}
