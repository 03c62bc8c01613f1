package grpccas

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"virtius.io/virtius/storage"
	"virtius.io/virtius/storage/casregistry"
)

var (
	flagTarget      string
	flagTimeout     time.Duration
	flagMaxMsgBytes int
	flagMaxFailures uint
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "Remote CAS over gRPC (talks to virtius-casd)",
		Usage:       casregistry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagTarget, "grpc-target", "", "gRPC target host:port (for --backend=grpc)")
			fs.DurationVar(&flagTimeout, "grpc-timeout", 10*time.Second, "Per-RPC timeout (for --backend=grpc)")
			fs.IntVar(&flagMaxMsgBytes, "grpc-max-msg-bytes", 64<<20, "Max gRPC message size in bytes (send+recv)")
			fs.UintVar(&flagMaxFailures, "grpc-max-failures", uint(defaultMaxFailures), "Consecutive failures before the circuit opens")
		},
		Open: func() (storage.CAS, func() error, error) {
			target := strings.TrimSpace(flagTarget)
			if target == "" {
				return nil, nil, fmt.Errorf("grpccas: missing --grpc-target")
			}
			client, err := New(target, Options{
				Timeout:     flagTimeout,
				MaxMsgBytes: flagMaxMsgBytes,
				MaxFailures: uint32(flagMaxFailures),
			})
			if err != nil {
				return nil, nil, err
			}
			return client, client.Close, nil
		},
	})
}
