package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/qkd"
	"github.com/opd-ai/qkd/transceiver"
	"github.com/opd-ai/qkd/transport"
)

func serveCmd() *cobra.Command {
	var (
		listen           string
		peerURL          string
		transceiverKind  string
		symbolPeriod     time.Duration
		keyLength        int
		rawMultiplier    int
		pollInterval     time.Duration
		handshakeTimeout time.Duration
		calibrateCycles  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the QKD node RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = envDefault("QKD_LISTEN", "0.0.0.0:5000")
			}
			if peerURL == "" {
				peerURL = envDefault("QKD_PEER_URL", "")
			}
			if peerURL == "" {
				return fmt.Errorf("peer URL required (--peer or QKD_PEER_URL)")
			}
			if transceiverKind == "" {
				transceiverKind = envDefault("QKD_TRANSCEIVER", string(transceiver.KindDisplay))
			}
			if keyLength == 0 {
				keyLength, _ = strconv.Atoi(envDefault("QKD_KEY_LENGTH", "256"))
			}

			kind, err := transceiver.ParseKind(transceiverKind)
			if err != nil {
				return err
			}

			opts := qkd.NewOptions()
			opts.PeerURL = peerURL
			opts.PeerClient = transport.NewClient(peerURL)
			opts.TransceiverKind = kind
			opts.SymbolPeriod = symbolPeriod
			opts.KeyLength = keyLength
			opts.RawMultiplier = rawMultiplier
			opts.PollInterval = pollInterval
			opts.HandshakeTimeout = handshakeTimeout
			opts.CalibrateCycles = calibrateCycles

			node, err := qkd.New(opts)
			if err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{
				"function":      "serve",
				"listen":        listen,
				"peer_url":      peerURL,
				"transceiver":   transceiverKind,
				"key_length":    keyLength,
				"symbol_period": symbolPeriod,
			}).Info("Starting QKD node")

			return transport.NewServer(node).ListenAndServe(listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "bind address (default $QKD_LISTEN or 0.0.0.0:5000)")
	cmd.Flags().StringVar(&peerURL, "peer", "", "peer node base URL (default $QKD_PEER_URL)")
	cmd.Flags().StringVar(&transceiverKind, "transceiver", "", "transceiver kind: display, hardware or loopback (default $QKD_TRANSCEIVER or display)")
	cmd.Flags().DurationVar(&symbolPeriod, "symbol-period", 500*time.Millisecond, "time per transmitted symbol")
	cmd.Flags().IntVar(&keyLength, "key-length", 0, "target sifted key length in bits (default $QKD_KEY_LENGTH or 256)")
	cmd.Flags().IntVar(&rawMultiplier, "raw-multiplier", 4, "raw bits generated per requested key bit")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 500*time.Millisecond, "handshake polling interval")
	cmd.Flags().DurationVar(&handshakeTimeout, "handshake-timeout", 15*time.Second, "default connect handshake deadline")
	cmd.Flags().IntVar(&calibrateCycles, "calibrate-cycles", 0, "transceiver calibration cycles before transmitting (0 skips)")

	return cmd
}
