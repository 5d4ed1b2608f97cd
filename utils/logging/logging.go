package logging

import (
	"log/slog"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"

	// ASSET OPERATIONS (ASSET*)
	ASSET_CREATE LogCode = "ASSET_CREATE"
	ASSET_READ   LogCode = "ASSET_READ"
	ASSET_UPDATE LogCode = "ASSET_UPDATE"
	ASSET_DELETE LogCode = "ASSET_DELETE"

	// VERSION OPERATIONS (VERSION*)
	VERSION_CREATE LogCode = "VERSION_CREATE"
	VERSION_READ   LogCode = "VERSION_READ"

	// POLICY OPERATIONS (POLICY*)
	POLICY_READ   LogCode = "POLICY_READ"
	POLICY_UPDATE LogCode = "POLICY_UPDATE"

	// COLLABORATOR FAILURES
	STORAGE_ERROR        LogCode = "STORAGE_ERROR"
	EXTRACTION_DEGRADED  LogCode = "EXTRACTION_DEGRADED"
	VERIFICATION_FAILURE LogCode = "VERIFICATION_FAILURE"
)

// VictoriaLogs has fixed field name for time (_time) and message(_msg). This function maps fields msg -> _msg and time -> _time.
func convertKeysToVictoriaLogs(keys []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}
