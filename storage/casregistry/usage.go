package casregistry

// Usage restricts which binaries offer a backend.
type Usage uint8

const (
	// UsageCLI marks backends offered by the virtius CLI.
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends a long-running daemon (virtius-casd) may serve from.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }
