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

func newPublishCmd() *cobra.Command {
	var (
		socketPath string
		width      int
		height     int
		format     string
		fps        int
		count      int
		shmDir     string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a moving test pattern",
		Long:  "Runs a host that publishes synthetic frames at a fixed rate, useful for exercising subscribers.",
		RunE: func(_ *cobra.Command, _ []string) error {
			logging.Initialize(logging.Config{Level: "info", Format: "text"})
			logger := logging.GetLogger("publish")

			host, err := vsl.NewHost(vsl.HostConfig{
				SocketPath: socketPath,
				ShmDir:     shmDir,
				Logger:     logging.GetLogger("host"),
			})
			if err != nil {
				return err
			}
			defer host.Close()

			logger.Info("publishing test pattern",
				"socket", socketPath,
				"format", format,
				"size", fmt.Sprintf("%dx%d", width, height),
				"fps", fps)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

			interval := time.Second / time.Duration(fps)
			frameDur := int64(interval / time.Microsecond)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			published := 0
			for count == 0 || published < count {
				select {
				case <-sig:
					logger.Info("stopping", "published", published)
					return nil
				case <-ticker.C:
				}

				pts := vsl.Timestamp()
				f, err := host.NewFrame(width, height, format, vsl.Timing{
					PTS: pts, DTS: pts, Duration: frameDur,
				})
				if errors.Is(err, vsl.ErrPoolExhausted) {
					logger.Warn("pool exhausted, skipping tick")
					continue
				}
				if err != nil {
					return err
				}
				if err := paintFrame(f, published); err != nil {
					f.Release()
					return err
				}
				if err := host.Publish(f); err != nil {
					f.Release()
					return err
				}
				f.Release()
				published++
			}
			logger.Info("done", "published", published)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&socketPath, "socket-path", "/tmp/videostream.vsl", "Signalling socket path")
	f.IntVar(&width, "width", 640, "Frame width")
	f.IntVar(&height, "height", 480, "Frame height")
	f.StringVar(&format, "format", "NV12", "Frame format fourcc")
	f.IntVar(&fps, "fps", 30, "Frames per second")
	f.IntVar(&count, "count", 0, "Stop after this many frames (0 runs forever)")
	f.StringVar(&shmDir, "shm-dir", "", "Directory for file-backed frames (empty uses memfd)")
	return cmd
}

// paintFrame fills the frame with a moving diagonal gradient.
func paintFrame(f *vsl.Frame, tick int) error {
	if err := f.TryLock(); err != nil {
		return err
	}
	buf, err := f.MapMut()
	if err != nil {
		f.Unlock()
		return err
	}
	w, h, stride := f.Width(), f.Height(), f.Stride()
	for y := 0; y < h && y*stride < len(buf); y++ {
		row := buf[y*stride:]
		for x := 0; x < w && x < len(row); x++ {
			row[x] = byte(x + y + tick*4)
		}
	}
	f.Unmap()
	return f.Unlock()
}
