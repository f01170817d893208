// Command disca runs a single cache node and drives it from a line-oriented
// stdin protocol, mirroring original_source/examples/simple.rs: each line
// is "add <key>, <content>", "get <key>", or "add_peer <multiaddress>".
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/discache/disca"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logrus.WithError(err).Fatal("disca: fatal error")
	}
}

func newRootCmd() *cobra.Command {
	var (
		root         string
		capacity     int64
		filesToEvict int
		listen       string
	)

	cmd := &cobra.Command{
		Use:   "disca",
		Short: "A distributed content-addressed file cache node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), root, capacity, filesToEvict, listen)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&root, "root", "./disca-data", "disk cache root directory")
	flags.Int64Var(&capacity, "capacity", 64<<20, "disk cache capacity in bytes")
	flags.IntVar(&filesToEvict, "files-to-evict", 16, "eviction batch size")
	flags.StringVar(&listen, "listen", "/ip6/::/udp/0/quic-v1", "p2p listen multiaddress")

	return cmd
}

func runNode(ctx context.Context, root string, capacity int64, filesToEvict int, listen string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenAddr, err := multiaddr.NewMultiaddr(listen)
	if err != nil {
		return fmt.Errorf("disca: parsing --listen: %w", err)
	}

	node, err := disca.New(ctx, disca.Options{
		Root:         root,
		Capacity:     capacity,
		FilesToEvict: filesToEvict,
		ListenAddr:   listenAddr,
	})
	if err != nil {
		return fmt.Errorf("disca: starting node: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"peer_id": node.PeerID(),
		"addr":    node.Addr(),
	}).Info("disca: node listening")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleLine(ctx, node, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	return scanner.Err()
}

func handleLine(ctx context.Context, node *disca.Node, line string) error {
	switch {
	case strings.HasPrefix(line, "add_peer "):
		raw := strings.TrimSpace(strings.TrimPrefix(line, "add_peer "))
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			return fmt.Errorf("parsing peer address: %w", err)
		}
		return node.AddPeer(ctx, addr)

	case strings.HasPrefix(line, "add "):
		rest := strings.TrimPrefix(line, "add ")
		key, content, ok := strings.Cut(rest, ",")
		if !ok {
			return fmt.Errorf("expected \"add <key>, <content>\"")
		}
		return node.Add(strings.TrimSpace(key), []byte(strings.TrimSpace(content)))

	case strings.HasPrefix(line, "get "):
		key := strings.TrimSpace(strings.TrimPrefix(line, "get "))
		f, err := node.Get(ctx, key)
		if err != nil {
			return err
		}
		if f == nil {
			fmt.Println("(not found)")
			return nil
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil

	default:
		return fmt.Errorf("unrecognized command: %q", line)
	}
}
