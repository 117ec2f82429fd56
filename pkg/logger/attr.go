package logger

import "log/slog"

// Attribute helpers keep key names consistent across the codebase so
// log aggregation queries do not have to account for spelling variants.

func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Provider(slug string) slog.Attr {
	return slog.String("provider", slug)
}

func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}
