package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/portward/internal/redirect"
)

var (
	listenAddr string
	listenPort uint16
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run a UDP listener on the rewrite port",
	Long: `
Run a plain UDP listener, by default on the rewrite port, and print every
datagram it receives. Useful for observing that redirected traffic arrives:

  portward listen &
  echo "testing port redirect" | nc -u localhost 9875
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := &net.UDPAddr{IP: net.ParseIP(listenAddr), Port: int(listenPort)}
		conn, err := net.ListenUDP("udp4", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		fmt.Printf("listening on %s\n", conn.LocalAddr())

		buf := make([]byte, 65535)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			fmt.Printf("%d bytes received from %s\n", n, from)
			fmt.Printf("message received: %s\n", buf[:n])
		}
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenAddr, "addr", "127.0.0.1", "address to bind")
	listenCmd.Flags().Uint16Var(&listenPort, "port", redirect.DefaultRewritePort, "UDP port to bind")
	rootCmd.AddCommand(listenCmd)
}
