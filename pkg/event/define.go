package event

import "time"

type StageName string
type EvtName string

const (
	Connect  StageName = "connect"
	Session  StageName = "session"
	Transfer StageName = "transfer"
	Shell    StageName = "shell"

	Connected        EvtName = "Connected"
	Disconnected     EvtName = "Disconnected"
	KeyInstalled     EvtName = "KeyInstalled"
	CommandDone      EvtName = "CommandDone"
	TransferProgress EvtName = "TransferProgress"
	TransferDone     EvtName = "TransferDone"
	ShellOpened      EvtName = "ShellOpened"
	ShellOutput      EvtName = "ShellOutput"
	ShellClosed      EvtName = "ShellClosed"
	Error            EvtName = "Error"
)

// Event is one fire-and-forget notification. Value carries short text such
// as a percentage or an error message, Data carries raw shell output.
type Event struct {
	Stage   StageName `json:"stage"`
	Name    EvtName   `json:"name"`
	Session string    `json:"session,omitempty"`
	Value   string    `json:"value,omitempty"`
	Data    []byte    `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

// New stamps an event with the current time
func New(stage StageName, name EvtName, value string) Event {
	return Event{Stage: stage, Name: name, Value: value, Time: time.Now()}
}
