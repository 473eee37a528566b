package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dagledger/core"
	"dagledger/lightapi"
	"dagledger/node"
	"dagledger/p2p"
	cfgpkg "dagledger/pkg/config"
)

var (
	envName string
	apiAddr string
)

func main() {
	root := &cobra.Command{Use: "dagnode"}
	root.PersistentFlags().StringVar(&envName, "env", "", "environment overlay to merge over default.yaml")
	root.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8090", "light API base address for wallet commands")

	root.AddCommand(nodeCmd())
	root.AddCommand(genesisCmd())
	root.AddCommand(walletCmd())
	root.AddCommand(catchupCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*cfgpkg.Config, error) {
	return cfgpkg.Load(envName)
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

func witnessList(cfg *cfgpkg.Config) (*core.WitnessList, error) {
	addrs := make([]core.Address, len(cfg.Ledger.Witnesses))
	for i, a := range cfg.Ledger.Witnesses {
		addrs[i] = core.Address(a)
	}
	return core.NewWitnessList(addrs)
}

func walletSigner(cfg *cfgpkg.Config) (*core.MnemonicSigner, error) {
	return core.NewMnemonicSigner(cfg.Wallet.Mnemonic, cfg.Wallet.Passphrase)
}

// nodeCmd implements "dagnode node start": boot a full validating node
// (core pipeline + genesis bootstrap) and run until interrupted.
func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	start := &cobra.Command{
		Use:   "start",
		Short: "start a validating node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runNode(cfg)
		},
	}
	cmd.AddCommand(start)
	return cmd
}

func genesisCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "genesis"}
	init_ := &cobra.Command{
		Use:   "init",
		Short: "build and print the genesis joint for this ledger's configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signer, err := walletSigner(cfg)
			if err != nil {
				return err
			}
			j, err := core.BuildGenesis(core.GenesisConfig{
				Version:  cfg.Network.ProtocolVersion,
				Alt:      cfg.Network.Alt,
				IssueCap: cfg.Ledger.IssueCap,
			}, []core.Signer{signer})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(j)
		},
	}
	cmd.AddCommand(init_)
	return cmd
}

// catchupCmd implements "dagnode catchup --peer <addr>": bring a local
// store up to date against one peer via the witness-proof / hash-tree
// protocol (§4.5, §8 S6) without running the full validating pipeline.
func catchupCmd() *cobra.Command {
	var peerAddr string
	cmd := &cobra.Command{
		Use:   "catchup",
		Short: "catch up this node's store from a peer's witness proof and hash tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			if peerAddr == "" {
				return fmt.Errorf("--peer is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runCatchup(cfg, peerAddr)
		},
	}
	cmd.Flags().StringVar(&peerAddr, "peer", "", "multiaddr of the peer to catch up from")
	return cmd
}

func runCatchup(cfg *cfgpkg.Config, peerAddr string) error {
	log := newLogger(cfg.Logging.Level)

	witnesses, err := witnessList(cfg)
	if err != nil {
		return fmt.Errorf("load witnesses: %w", err)
	}

	store, err := core.NewFileStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	lastStableMCI, _, err := store.LoadLastMCI()
	if err != nil {
		return fmt.Errorf("load last mci: %w", err)
	}

	p2pNode, err := p2p.NewNode(p2p.Config{
		ListenAddr:      cfg.Network.ListenAddr,
		DiscoveryTag:    cfg.Network.DiscoveryTag,
		ProtocolVersion: cfg.Network.ProtocolVersion,
		Alt:             cfg.Network.Alt,
	})
	if err != nil {
		return fmt.Errorf("start p2p node: %w", err)
	}
	defer p2pNode.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.WithField("peer", peerAddr).Info("dagnode: starting catch-up")
	result, err := node.RunCatchup(ctx, p2pNode, peerAddr, witnesses, lastStableMCI, "")
	if err != nil {
		return fmt.Errorf("catch-up: %w", err)
	}
	fmt.Printf("catch-up session %s: verified %d witness joints, %d hash-tree balls\n",
		result.SessionID, result.WitnessJointsVerified, result.BallsVerified)
	return nil
}

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "wallet"}

	address := &cobra.Command{
		Use:   "address",
		Short: "print this wallet's address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signer, err := walletSigner(cfg)
			if err != nil {
				return err
			}
			fmt.Println(signer.Address())
			return nil
		},
	}

	balance := &cobra.Command{
		Use:   "balance [address]",
		Short: "query the balance of an address via the light API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return httpGetPrint(apiAddr + "/light/balance/" + args[0])
		},
	}

	pay := &cobra.Command{
		Use:   "pay [to] [amount]",
		Short: "spend this wallet's inputs to pay an address, via the light API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return walletPay(cfg, args[0], args[1])
		},
	}

	cmd.AddCommand(address, balance, pay)
	return cmd
}

func httpGetPrint(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func walletPay(cfg *cfgpkg.Config, toAddr, amountStr string) error {
	var amount int64
	if _, err := fmt.Sscanf(amountStr, "%d", &amount); err != nil {
		return fmt.Errorf("invalid amount: %s", amountStr)
	}

	signer, err := walletSigner(cfg)
	if err != nil {
		return err
	}

	resp, err := http.Get(apiAddr + "/light/inputs/" + string(signer.Address()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var inputs []struct {
		Unit         string `json:"unit"`
		MessageIndex int    `json:"message_index"`
		OutputIndex  int    `json:"output_index"`
		Amount       int64  `json:"amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&inputs); err != nil {
		return fmt.Errorf("decode inputs: %w", err)
	}

	var selected []core.Input
	var total int64
	for _, in := range inputs {
		selected = append(selected, core.Input{
			Kind: core.InputTransfer, Unit: in.Unit,
			MessageIndex: in.MessageIndex, OutputIndex: in.OutputIndex,
			Address: signer.Address(),
		})
		total += in.Amount
		if total >= amount {
			break
		}
	}
	if total < amount {
		return fmt.Errorf("insufficient spendable balance: have %d, need %d", total, amount)
	}

	outputs := []core.Output{{Address: core.Address(toAddr), Amount: amount}}
	if change := total - amount; change > 0 {
		outputs = append(outputs, core.Output{Address: signer.Address(), Amount: change})
	}
	sort.Slice(outputs, func(i, j int) bool {
		if outputs[i].Address != outputs[j].Address {
			return outputs[i].Address < outputs[j].Address
		}
		return outputs[i].Amount < outputs[j].Amount
	})

	lbResp, err := http.Get(apiAddr + "/light/last-ball")
	if err != nil {
		return fmt.Errorf("fetch last ball: %w", err)
	}
	defer lbResp.Body.Close()
	var lastBall struct {
		Unit string `json:"unit"`
		Ball string `json:"ball"`
	}
	if err := json.NewDecoder(lbResp.Body).Decode(&lastBall); err != nil {
		return fmt.Errorf("decode last ball: %w", err)
	}

	def := signer.Definition()
	u := core.Unit{
		Version:      cfg.Network.ProtocolVersion,
		Alt:          cfg.Network.Alt,
		Parents:      []string{lastBall.Unit},
		LastBall:     lastBall.Ball,
		LastBallUnit: lastBall.Unit,
		Authors:      []core.Author{{Address: signer.Address(), Definition: &def}},
		Messages: []core.Message{{
			App:             core.AppPayment,
			PayloadLocation: "inline",
			Payment:         &core.PaymentPayload{Inputs: selected, Outputs: outputs},
		}},
	}
	payloadHash := core.SignedPayloadHash(&u)
	auth, err := signer.Sign(payloadHash)
	if err != nil {
		return fmt.Errorf("sign payment: %w", err)
	}
	u.Authors[0].Authentifiers = []core.Authentifier{auth}
	u.ComputeHash()

	j := &core.Joint{Unit: u}
	raw, err := json.Marshal(map[string]interface{}{"joint": node.JointToWire(j)})
	if err != nil {
		return fmt.Errorf("marshal joint: %w", err)
	}
	postResp, err := http.Post(apiAddr+"/joint", "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("submit joint: %w", err)
	}
	defer postResp.Body.Close()
	body, _ := io.ReadAll(postResp.Body)
	fmt.Printf("submitted %s -> %s: %s\n", u.UnitHash, postResp.Status, string(body))
	return nil
}

func runNode(cfg *cfgpkg.Config) error {
	log := newLogger(cfg.Logging.Level)

	witnesses, err := witnessList(cfg)
	if err != nil {
		return fmt.Errorf("load witnesses: %w", err)
	}

	store, err := core.NewFileStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	vcfg := core.ValidationConfig{Version: cfg.Network.ProtocolVersion, Alt: cfg.Network.Alt}
	bcfg := core.BusinessConfig{IssueCap: cfg.Ledger.IssueCap}
	instr := node.NewPromInstrumentation(prometheus.DefaultRegisterer)

	clk := clock.New()
	c := core.NewCore(vcfg, witnesses, store, clk, log, instr, bcfg)
	if err := c.Replay(); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	if c.MainChain.LastStable() == nil {
		signer, err := walletSigner(cfg)
		if err != nil {
			return fmt.Errorf("wallet signer for genesis: %w", err)
		}
		g, err := core.BuildGenesis(core.GenesisConfig{
			Version: cfg.Network.ProtocolVersion, Alt: cfg.Network.Alt, IssueCap: cfg.Ledger.IssueCap,
		}, []core.Signer{signer})
		if err != nil {
			return fmt.Errorf("build genesis: %w", err)
		}
		if err := c.SubmitJoint(g, "local"); err != nil {
			return fmt.Errorf("submit genesis: %w", err)
		}
		log.WithField("unit", g.Unit.UnitHash).Info("dagnode: genesis submitted")
	}

	p2pNode, err := p2p.NewNode(p2p.Config{
		ListenAddr:      cfg.Network.ListenAddr,
		BootstrapPeers:  cfg.Network.BootstrapPeers,
		DiscoveryTag:    cfg.Network.DiscoveryTag,
		ProtocolVersion: cfg.Network.ProtocolVersion,
		Alt:             cfg.Network.Alt,
	})
	if err != nil {
		return fmt.Errorf("start p2p node: %w", err)
	}
	defer p2pNode.Close()
	peers := p2p.NewPeerManagement(p2pNode)
	bs, err := node.NewBootstrap(c, p2pNode, peers, log)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:    cfg.LightAPI.ListenAddr,
		Handler: lightapi.New(c, c.MainChain, c.Business, bs, log),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("dagnode: light API server stopped")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	snapshotPath := filepath.Join(cfg.Storage.DBPath, "misc", "snapshot.gz")
	go bs.RunMaintenance(ctx, clk, store, snapshotPath)

	log.Info("dagnode: starting core pipeline")
	err = bs.Run(ctx)
	_ = httpSrv.Close()
	return err
}
