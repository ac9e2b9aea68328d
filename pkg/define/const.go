package define

import "time"

var (
	Version  = ""
	CommitID = ""
)

const (
	AppName          = "studio"
	SettingsFileName = "settings.yaml"
	LockFileSuffix   = ".lock"

	DefaultServer = "localhost"
	DefaultUser   = "support"
	DefaultPort   = 22

	DefaultKeyFileName = "id_ed25519"
	SSHDirName         = ".ssh"
	PublicKeySuffix    = ".pub"

	DefaultTerminalType   = "xterm-256color"
	DefaultTerminalWidth  = 80
	DefaultTerminalHeight = 24
)

const (
	// DialTimeout bounds each candidate address, not the whole resolution.
	DialTimeout       = 5 * time.Second
	KeepaliveInterval = 5 * time.Second

	WouldBlockRetryInterval = 20 * time.Millisecond
	ShellIdleInterval       = 20 * time.Millisecond
	TransferTimeout         = time.Hour

	TransferChunkSize = 16000
	ShellReadSize     = 4096

	UploadPermissions = "0644"
	MkdirMode         = 0o755

	MaxDeleteDepth = 256

	// KeyLoginTimeout bounds the key login retest after the public key
	// was installed.
	KeyLoginTimeout     = 30 * time.Second
	ControlReadyTimeout = 5 * time.Second
)

const (
	KeyGenBuiltin   = "builtin"
	KeyGenSSHKeygen = "ssh-keygen"
)

const (
	FlagVerbose      = "verbose"
	FlagLogLevel     = "log-level"
	FlagSettings     = "settings"
	FlagHost         = "host"
	FlagPort         = "port"
	FlagUser         = "user"
	FlagPassword     = "password"
	FlagKey          = "key"
	FlagJumpHost     = "jump-host"
	FlagJumpPort     = "jump-port"
	FlagJumpUser     = "jump-user"
	FlagJumpPassword = "jump-password"
	FlagJumpKey      = "jump-key"
	FlagReportSocket = "report-socket"
	FlagStream       = "stream"
	FlagListen       = "listen"
	FlagKeyGen       = "keygen"
	FlagGVProxy      = "gvproxy-socket"
	FlagWait         = "wait"
)

type AuthMode int

const (
	PasswordAuth AuthMode = iota
	KeyAuth
)

func (m AuthMode) String() string {
	switch m {
	case PasswordAuth:
		return "password"
	case KeyAuth:
		return "key"
	default:
		return "unknown"
	}
}
