package localfs

import (
	"flag"
	"fmt"

	"virtius.io/virtius/storage"
	"virtius.io/virtius/storage/casregistry"
)

var flagDir string

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "localfs",
		Description: "Directory-backed store for originals, protected images and certificates",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagDir, "localfs-dir", "", "LocalFS CAS directory (for --backend=localfs)")
		},
		Open: func() (storage.CAS, func() error, error) {
			if flagDir == "" {
				return nil, nil, fmt.Errorf("localfs: missing --localfs-dir")
			}
			cas, err := New(flagDir)
			return cas, nil, err
		},
	})
}
