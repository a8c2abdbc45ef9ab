package db

// Logger is an interface that logs messages to inform users
// about both invalid rows and rows that are valid but
// require a warning to be displayed.
type Logger interface {
	InvalidMsg(key string, msg string)
	WarnMsg(key string, msg string)
}

type nopLogger struct{}

func (nopLogger) InvalidMsg(string, string) {}

func (nopLogger) WarnMsg(string, string) {}
