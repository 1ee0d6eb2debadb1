package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/videostream/internal/logging"
	"github.com/smazurov/videostream/pkg/vsl"
)

func newSubscribeCmd() *cobra.Command {
	var (
		socketPath string
		count      int
		timeoutMs  int
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to a host and dump frame info",
		RunE: func(_ *cobra.Command, _ []string) error {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})
			logger := logging.GetLogger("subscribe")

			client, err := vsl.Connect(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()
			logger.Info("connected", "socket", socketPath)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			done := make(chan struct{})
			go func() {
				<-sig
				close(done)
				client.Close()
			}()

			timeout := time.Duration(timeoutMs) * time.Millisecond
			received := 0
			for count == 0 || received < count {
				select {
				case <-done:
					logger.Info("stopping", "received", received)
					return nil
				default:
				}

				f, err := client.GetFrame(timeout)
				if errors.Is(err, vsl.ErrTimeout) {
					continue
				}
				if errors.Is(err, vsl.ErrConnectionClosed) {
					logger.Info("host went away", "received", received)
					return nil
				}
				if err != nil {
					return err
				}

				fmt.Printf("serial=%d format=%s %dx%d stride=%d size=%d pts=%d\n",
					f.Serial(), f.FourCC(), f.Width(), f.Height(), f.Stride(), f.Size(), f.PTS())
				f.Release()
				received++
			}
			logger.Info("done", "received", received)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&socketPath, "socket-path", "/tmp/videostream.vsl", "Signalling socket path")
	f.IntVar(&count, "count", 0, "Stop after this many frames (0 runs forever)")
	f.IntVar(&timeoutMs, "timeout-ms", 1000, "Per-frame wait in milliseconds")
	return cmd
}
