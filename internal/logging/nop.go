package logging

import "context"

type nop struct{}

// Nop discards everything. Used by tests and when LOG_LEVEL=off.
func Nop() Logger {
	return nop{}
}

func (n nop) With(Fields) Logger { return n }

func (n nop) WithField(string, any) Logger { return n }

func (n nop) WithError(error) Logger { return n }

func (n nop) WithContext(ctx context.Context, _ Fields) context.Context { return ctx }

func (n nop) Debug(context.Context, string) {}

func (n nop) Info(context.Context, string) {}

func (n nop) Warn(context.Context, string) {}

func (n nop) Error(context.Context, string) {}
