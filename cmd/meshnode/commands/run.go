package commands

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/node"
	"github.com/skycoin/meshrouter/pkg/nodelink"
	"github.com/skycoin/meshrouter/pkg/portal"
	"github.com/skycoin/meshrouter/pkg/router"
	"github.com/skycoin/meshrouter/pkg/routerlink"
)

var log = logging.MustGetLogger("meshnode")

// peerEntry names one static peer this node dials on startup.
type peerEntry struct {
	Address string `mapstructure:"address"`
	PubKey  string `mapstructure:"pub_key"`
}

// routeEntry names one demo route bridged between this node and a peer
// already listed in Peers: both ends of a route must configure the same
// Sublink and complementary Dial values (one true, one false) since a
// sublink number is agreed on out of band here rather than negotiated
// on the wire, unlike a bypass target's sublink which the running
// protocol already knows about.
type routeEntry struct {
	Peer    string `mapstructure:"peer"`
	Sublink uint64 `mapstructure:"sublink"`
	Dial    bool   `mapstructure:"dial"`
}

// runConfig is the flag/config-file shape for "meshnode run", combining
// cmd/skywire-node's JSON node config fields with the flag names
// bindFlagsLoadViper registers so either source may supply them.
type runConfig struct {
	Listen string       `mapstructure:"listen"`
	SecKey string       `mapstructure:"sec_key"`
	Peers  []peerEntry  `mapstructure:"peers"`
	Routes []routeEntry `mapstructure:"routes"`
}

func newRunCmd() *cobra.Command {
	cfg := &runConfig{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bring up a mesh routing node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlagsLoadViper(cmd, cfg); err != nil {
				return err
			}
			return runNode(cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Listen, "listen", "127.0.0.1:5000", "address to listen on for peer NodeLinks")
	cmd.Flags().StringVar(&cfg.SecKey, "sec-key", "", "this node's hex-encoded secret key (generated if empty)")

	return cmd
}

// bindFlagsLoadViper registers cmd's flags with viper, unmarshals once so
// flag values (or their defaults) populate cfg, then layers in a config
// file if one is present, unmarshaling again so file values win over
// flag defaults but not explicitly-set flags. Grounded on
// cmd/babble/commands/run.go's bindFlagsLoadViper.
func bindFlagsLoadViper(cmd *cobra.Command, cfg *runConfig) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.Unmarshal(cfg); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("meshnode")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("file", viper.ConfigFileUsed()).Info("using config file")
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}

	return viper.Unmarshal(cfg)
}

// runNode brings up a Node from cfg, dials every configured peer, wires
// up any demo routes, and blocks until an interrupt or termination
// signal arrives. Grounded on cmd/skywire-node/commands/root.go's
// signal-handling tail (signal.Notify on SIGINT/SIGTERM/SIGQUIT, block
// until received, shut down cleanly).
func runNode(cfg *runConfig) error {
	var sk cipher.SecKey
	if cfg.SecKey != "" {
		parsed, err := cipher.SecKeyFromHex(cfg.SecKey)
		if err != nil {
			return fmt.Errorf("meshnode: parse sec-key: %w", err)
		}
		sk = parsed
	} else {
		_, sk = cipher.GenerateKeyPair()
	}
	pk := cipher.PubKeyFromSecKey(sk)

	n := node.New(node.Config{PubKey: pk, SecKey: sk})
	log.WithField("node", n.LocalName().String()).WithField("pub_key", pk.Hex()).Info("starting node")

	errCh := make(chan error, 1)
	go func() {
		if err := n.ListenAndServe(cfg.Listen); err != nil {
			errCh <- err
		}
	}()

	peerKeys := make(map[string]cipher.PubKey, len(cfg.Peers))
	for _, p := range cfg.Peers {
		pk, err := cipher.PubKeyFromHex(p.PubKey)
		if err != nil {
			return fmt.Errorf("meshnode: parse peer %q pub_key: %w", p.Address, err)
		}
		peerKeys[p.Address] = pk

		nl, err := n.Dial(p.Address, pk)
		if err != nil {
			return fmt.Errorf("meshnode: dial peer %s: %w", p.Address, err)
		}
		log.WithField("peer", nl.RemoteName().String()).Info("connected to peer")
	}

	var routers []*router.Router
	for _, rt := range cfg.Routes {
		pk, ok := peerKeys[rt.Peer]
		if !ok {
			return fmt.Errorf("meshnode: route references unknown peer %q", rt.Peer)
		}
		nl, ok := n.Link(cipher.NodeNameFromPubKey(pk))
		if !ok {
			return fmt.Errorf("meshnode: no NodeLink to route peer %q", rt.Peer)
		}

		side := routerlink.SideB
		if rt.Dial {
			side = routerlink.SideA
		}

		r := router.NewTerminal(nil, n.LocalName())
		r.SetBypassDialer(n)
		link := router.NewRemoteLink(nl, nodelink.SublinkId(rt.Sublink), routerlink.Central, side, r, nl.RemoteName(), nodelink.SublinkId(rt.Sublink))
		nl.BindSublink(nodelink.SublinkId(rt.Sublink), link)
		r.SetOutwardLink(link)
		routers = append(routers, r)

		p := portal.New(r)
		log.WithField("sublink", rt.Sublink).Info("route ready")
		go echoPortal(p)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	for _, r := range routers {
		_ = r.CloseRoute()
	}
	return n.Close()
}

// echoPortal is the demo harness's traffic generator: it prints every
// parcel it receives on p and puts nothing of its own, just enough
// activity for the bypass protocol to have something to run against
// once a route's middle router is spliced out.
func echoPortal(p *portal.Portal) {
	var once sync.Once
	p.Trap(func(status router.Status) {
		if status.PeerClosed {
			once.Do(func() { _ = p.Close() })
		}
	})
	for {
		data, ok := p.Get()
		if !ok {
			if p.QueryStatus().Dead {
				return
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		log.WithField("data", string(data)).Info("received parcel")
	}
}
