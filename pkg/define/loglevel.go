package define

import "github.com/sirupsen/logrus"

type Loglevel int32

const (
	OFF Loglevel = iota
	ERROR
	WARN
	INFO
	DEBUG
	TRACE
)

func (l Loglevel) String() string {
	switch l {
	case OFF:
		return "OFF"
	case ERROR:
		return "ERROR"
	case WARN:
		return "WARN"
	case DEBUG:
		return "DEBUG"
	case TRACE:
		return "TRACE"
	case INFO:
		return "INFO"
	default:
		return "OFF"
	}
}

func LogLevelStr2Type(str string) Loglevel {
	switch str {
	case "OFF":
		return OFF
	case "ERROR":
		return ERROR
	case "WARN":
		return WARN
	case "DEBUG":
		return DEBUG
	case "TRACE":
		return TRACE
	case "INFO":
		return INFO
	default:
		return OFF
	}
}

// Logrus maps the level onto logrus. OFF keeps only panics.
func (l Loglevel) Logrus() logrus.Level {
	switch l {
	case ERROR:
		return logrus.ErrorLevel
	case WARN:
		return logrus.WarnLevel
	case INFO:
		return logrus.InfoLevel
	case DEBUG:
		return logrus.DebugLevel
	case TRACE:
		return logrus.TraceLevel
	default:
		return logrus.PanicLevel
	}
}
