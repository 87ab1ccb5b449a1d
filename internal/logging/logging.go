package logging

type (
	// Logger is the logging surface the network layer writes to. The
	// default is to say nothing; binaries install a real backend.
	Logger interface {
		Debug(msg string, args ...any)
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
	}
	NOOPLogger struct{}
)

func (NOOPLogger) Debug(msg string, args ...any) {}
func (NOOPLogger) Info(msg string, args ...any)  {}
func (NOOPLogger) Warn(msg string, args ...any)  {}
func (NOOPLogger) Error(msg string, args ...any) {}
