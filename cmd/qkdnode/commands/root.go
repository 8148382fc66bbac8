package commands

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string

// Execute runs the qkdnode CLI.
func Execute() error {
	root := &cobra.Command{
		Use:   "qkdnode",
		Short: "BB84 quantum-key-distribution node",
		Long: "qkdnode runs one endpoint of a simulated BB84 key exchange.\n" +
			"Two nodes pointed at each other establish a shared secret over\n" +
			"an abstracted quantum channel and expose it through an\n" +
			"ETSI-style RPC surface.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; explicit environment always wins.
			_ = godotenv.Load()

			if logLevel == "" {
				logLevel = envDefault("QKD_LOG_LEVEL", "info")
			}
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default $QKD_LOG_LEVEL or info)")

	root.AddCommand(serveCmd(), parityCmd())
	return root.Execute()
}

// envDefault reads an environment variable with a fallback.
func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
