package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
// Args are alternating key/value pairs, printed as fields.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerolog builds a console-writer backed logger tagged with the
// node/component name.
func NewZerolog(component string) *ZerologLogger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: l}
}

func (z *ZerologLogger) Debug(msg string, args ...any) { z.emit(z.log.Debug(), msg, args) }
func (z *ZerologLogger) Info(msg string, args ...any)  { z.emit(z.log.Info(), msg, args) }
func (z *ZerologLogger) Warn(msg string, args ...any)  { z.emit(z.log.Warn(), msg, args) }
func (z *ZerologLogger) Error(msg string, args ...any) { z.emit(z.log.Error(), msg, args) }

func (z *ZerologLogger) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
