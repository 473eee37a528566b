package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// readyPoolSize bounds the multi-producer ready-validation stage (§5: many
// joints can be ready-validated concurrently since each only reads its own
// ancestry; main-chain, business and finalization stay single-consumer
// because each depends on the previous one's total order).
const readyPoolSize = 8

const (
	readyQueueSize  = 4096
	mainChainQueueSize = 4096
	businessQueueSize  = 4096
	finalizeQueueSize  = 4096
)

// Core wires together the cache, validators, main-chain engine, business
// ledger and store into the four-stage pipeline of §5: transport hands
// joints to SubmitJoint, which feeds ready validation; ready validation
// feeds the main-chain worker; the main-chain worker feeds the business
// worker in MCI order; the business worker feeds the finalization worker,
// which persists to the store.
type Core struct {
	cfg       ValidationConfig
	witnesses *WitnessList
	clock     Clock
	log       *logrus.Logger
	instr     Instrumentation

	Cache     *Cache
	Store     Store
	Defs      *DefinitionRegistry
	Ready     *ReadyValidator
	MainChain *MainChainEngine
	Business  *BusinessLedger

	readyQueue     chan *JointData
	mainChainQueue chan *JointData
	businessQueue  chan *JointData
	finalizeQueue  chan *JointData
	Events         chan StabilityEvent

	fatal chan error
	wg    sync.WaitGroup
}

// NewCore constructs the pipeline but does not start its workers; call Run
// to start them against a context.
func NewCore(cfg ValidationConfig, witnesses *WitnessList, store Store, clk Clock, log *logrus.Logger, instr Instrumentation, bcfg BusinessConfig) *Core {
	if instr == nil {
		instr = NoopInstrumentation{}
	}
	c := &Core{
		cfg:            cfg,
		witnesses:      witnesses,
		clock:          clk,
		log:            log,
		instr:          instr,
		Store:          store,
		Defs:           NewDefinitionRegistry(),
		Business:       NewBusinessLedger(bcfg),
		readyQueue:     make(chan *JointData, readyQueueSize),
		mainChainQueue: make(chan *JointData, mainChainQueueSize),
		businessQueue:  make(chan *JointData, businessQueueSize),
		finalizeQueue:  make(chan *JointData, finalizeQueueSize),
		Events:         make(chan StabilityEvent, 256),
		fatal:          make(chan error, 1),
	}
	validateBasic := func(j *Joint) error { return BasicValidate(cfg, j) }
	c.Cache = NewCache(clk, store, log, validateBasic)
	c.MainChain = NewMainChainEngine(witnesses, store, c.businessQueue, c.Events, log, instr)
	c.Ready = NewReadyValidator(cfg, witnesses, c.Cache, c.MainChain, c.Defs)
	return c
}

// Witnesses exposes the configured witness list to packages outside core
// that need it for catch-up (§4.5 witness proof requests reference the
// requester's own configured committee).
func (c *Core) Witnesses() *WitnessList { return c.witnesses }

// SubmitJoint is the external entry point (§2's transport -> cache.add_new
// step). It runs basic validation via the cache, and if the joint's
// parents are already resolved, enqueues it directly for ready validation
// instead of waiting for a sibling to wake it later.
func (c *Core) SubmitJoint(j *Joint, peer string) error {
	jd, ready, err := c.Cache.Submit(j, peer, c.clock.Now().Unix())
	if err != nil {
		return err
	}
	c.instr.IncSubmitted()
	if ready {
		c.readyQueue <- jd
	}
	return nil
}

// Run starts the pipeline's worker goroutines and blocks until ctx is
// cancelled or a downstream stage hits a fatal invariant violation, per §6
// ("a stalled business or finalization worker aborts the process").
func (c *Core) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readyPool := pool.New().WithMaxGoroutines(readyPoolSize)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runReadyStage(ctx, readyPool)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runMainChainStage(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runBusinessStage(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runFinalizationStage(ctx)
	}()

	select {
	case <-ctx.Done():
		cancel()
		c.wg.Wait()
		return ctx.Err()
	case err := <-c.fatal:
		cancel()
		c.wg.Wait()
		return fmt.Errorf("core: pipeline aborted: %w", err)
	}
}

func (c *Core) abort(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

// runReadyStage is the multi-producer ready-validation worker of §5: each
// joint is structurally ready-validated and given a provisional business
// sequence independently of every other joint in flight.
func (c *Core) runReadyStage(ctx context.Context, p *pool.Pool) {
	for {
		select {
		case <-ctx.Done():
			p.Wait()
			return
		case jd, ok := <-c.readyQueue:
			if !ok {
				p.Wait()
				return
			}
			p.Go(func() { c.validateOne(jd) })
		}
	}
}

func (c *Core) validateOne(jd *JointData) {
	if !jd.Joint.Unit.IsGenesis() {
		if err := c.Ready.Validate(jd); err != nil {
			c.Cache.PurgeBad(jd.Hash, err)
			c.instr.IncValidated(SeqFinalBad)
			return
		}
	} else {
		jd.MutateProps(func(p *JointProperty) {
			p.Level = ZeroLevel
			p.WL = ZeroLevel
			p.MinWL = ZeroLevel
		})
	}

	seq, err := c.Business.CheckAndApplyUnstable(jd)
	if err != nil {
		c.Cache.PurgeBad(jd.Hash, err)
		c.instr.IncValidated(SeqFinalBad)
		return
	}
	jd.MutateProps(func(p *JointProperty) { p.Sequence = seq })
	c.instr.IncValidated(seq)

	woken, err := c.Cache.Normalize(jd.Hash)
	if err != nil {
		c.abort(fmt.Errorf("normalize %s: %w", jd.Hash, err))
		return
	}
	if c.Store != nil {
		_ = c.Store.PutJoint(jd.Hash, jd.Joint)
		_ = c.Store.PutProperty(jd.Hash, jd.Props())
	}

	c.mainChainQueue <- jd
	for _, w := range woken {
		c.readyQueue <- w
	}
}

// runMainChainStage is the single-consumer main-chain worker of §5: it
// must see every normalized joint exactly once, and in an order consistent
// with its own ancestry, since OnReadyJoint compares against a running
// notion of the stable tip.
func (c *Core) runMainChainStage(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jd, ok := <-c.mainChainQueue:
			if !ok {
				return
			}
			if jd.Joint.Unit.IsGenesis() && c.MainChain.LastStable() == nil {
				jd.MutateProps(func(p *JointProperty) {
					p.IsStable = true
					p.MCI = 0
					p.LIMCI = 0
					p.SubMCI = 0
				})
				jd.Joint.Ball = BallHash(jd.Hash, nil, nil, false)
				c.MainChain.SetLastStable(jd)
				c.businessQueue <- jd
				continue
			}
			if err := c.MainChain.OnReadyJoint(jd); err != nil {
				c.abort(fmt.Errorf("main chain: %w", err))
				return
			}
		}
	}
}

// runBusinessStage is the single-consumer, MCI-ordered business worker of
// §5: joints arrive from markStable already in (level, hash) order within
// each batch, so re-applying the payment contract against the stable state
// here sees a deterministic sequence of inputs.
func (c *Core) runBusinessStage(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jd, ok := <-c.businessQueue:
			if !ok {
				return
			}
			lastBallMCI := jd.Props().MCI
			if jd.Joint.Unit.IsGenesis() {
				lastBallMCI = 0
			}
			seq, err := c.Business.ApplyStable(jd, lastBallMCI)
			if err != nil {
				c.abort(fmt.Errorf("business: %w", err))
				return
			}
			if seq == SeqFinalBad && jd.Props().Sequence == SeqGood {
				c.Business.RevertTemp(jd)
			}
			jd.MutateProps(func(p *JointProperty) { p.Sequence = seq })
			c.instr.IncStabilized()
			c.finalizeQueue <- jd
		}
	}
}

// runFinalizationStage is the single-consumer finalization worker of §5:
// it persists the final property record and children list, the last step
// before a joint is durable.
func (c *Core) runFinalizationStage(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jd, ok := <-c.finalizeQueue:
			if !ok {
				return
			}
			if c.Store == nil {
				continue
			}
			// Re-persist the joint now that markStable has set its ball.
			if err := c.Store.PutJoint(jd.Hash, jd.Joint); err != nil {
				c.abort(fmt.Errorf("finalize joint %s: %w", jd.Hash, err))
				return
			}
			if err := c.Store.PutProperty(jd.Hash, jd.Props()); err != nil {
				c.abort(fmt.Errorf("finalize %s: %w", jd.Hash, err))
				return
			}
			children := jd.Children()
			names := make([]string, len(children))
			for i, ch := range children {
				names[i] = ch.Hash
			}
			if err := c.Store.PutChildren(jd.Hash, names); err != nil {
				c.abort(fmt.Errorf("finalize children %s: %w", jd.Hash, err))
				return
			}
		}
	}
}

// Replay rebuilds business state from the store at startup (§9 "Balance/
// related-units rebuild... on startup, replay stable joints in MCI order
// into an empty business state"). It must run before Run.
func (c *Core) Replay() error {
	if c.Store == nil {
		return nil
	}
	hashes, err := c.Store.AllJointHashes()
	if err != nil {
		return fmt.Errorf("core: replay list joints: %w", err)
	}

	type stableJoint struct {
		jd *JointData
	}
	var stable []stableJoint
	for _, h := range hashes {
		j, ok, err := c.Store.GetJoint(h)
		if err != nil {
			return fmt.Errorf("core: replay load joint %s: %w", h, err)
		}
		if !ok {
			continue
		}
		p, ok, err := c.Store.GetProperty(h)
		if err != nil {
			return fmt.Errorf("core: replay load property %s: %w", h, err)
		}
		if !ok || !p.IsStable {
			continue
		}
		jd := newJointData(h, j, p.CreateTime)
		jd.props.Store(p)
		c.Cache.mu.Lock()
		c.Cache.normal[h] = jd
		c.Cache.mu.Unlock()
		stable = append(stable, stableJoint{jd: jd})
	}

	sort.Slice(stable, func(i, j int) bool {
		pi, pj := stable[i].jd.Props(), stable[j].jd.Props()
		if pi.MCI != pj.MCI {
			return pi.MCI < pj.MCI
		}
		return pi.SubMCI < pj.SubMCI
	})

	for _, sj := range stable {
		lastBallMCI := sj.jd.Props().MCI
		if _, err := c.Business.ApplyStable(sj.jd, lastBallMCI); err != nil {
			return fmt.Errorf("core: replay apply %s: %w", sj.jd.Hash, err)
		}
		if len(stable) > 0 {
			c.MainChain.SetLastStable(sj.jd)
		}
	}
	if mci, ok, err := c.Store.LoadLastMCI(); err == nil && ok {
		c.log.WithField("last_mci", mci).Info("replay complete")
	}
	return nil
}
