package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"weft/internal/config"
	"weft/internal/gptr"
	"weft/internal/logging"
	"weft/internal/observ"
	"weft/internal/remote"
	"weft/internal/sched"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a demo workload on an in-process cluster",
	Long: `Run spins up several participants on the loopback transport and drives a
demo workload through the scheduler: an independent compute burst, a
write phase, and a cross-participant read phase ordered by data-flow
dependencies.`,
	RunE: runDemo,
}

func init() {
	runCmd.Flags().Int("units", 0, "participants on the loopback bus (0 = from weft.toml)")
	runCmd.Flags().Int("tasks", 256, "independent tasks per participant")
	runCmd.Flags().Int("workers", 0, "workers per participant (0 = from weft.toml, else probe hardware)")
	runCmd.Flags().Bool("timings", false, "print stage timings")
}

func runDemo(cmd *cobra.Command, args []string) error {
	configureColor(cmd)
	quiet, _ := cmd.Flags().GetBool("quiet")

	cfg, err := config.LoadOrDefault(".")
	if err != nil {
		return err
	}
	units, _ := cmd.Flags().GetInt("units")
	if units == 0 {
		units = cfg.Runtime.Units
	}
	if units <= 0 {
		units = 1
	}
	workers, _ := cmd.Flags().GetInt("workers")
	if workers == 0 {
		workers = cfg.Runtime.Threads
	}
	tasks, _ := cmd.Flags().GetInt("tasks")
	timings, _ := cmd.Flags().GetBool("timings")
	if !timings {
		timings = cfg.Trace.Timings
	}

	log := logging.New(os.Stderr, cfg.Log.Level)
	if quiet {
		log = logging.Discard()
	}

	timer := observ.NewTimer()

	stopSetup := timer.Stage("setup")
	bus, err := remote.NewBus(units)
	if err != nil {
		return err
	}
	stopSetup(fmt.Sprintf("%d units", units))

	// shared "global memory": one region value per participant
	mem := make([]atomic.Int64, units)
	var mismatches atomic.Int64
	allStats := make([][]sched.WorkerStats, units)

	// no participant may complete its epoch before all submissions
	// went out, so inbound requests resolve against live writers
	var submitted sync.WaitGroup
	submitted.Add(units)

	stopWorkload := timer.Stage("workload")
	var g errgroup.Group
	for u := 0; u < units; u++ {
		g.Go(func() error {
			return runUnit(unitParams{
				unit:       u,
				units:      units,
				workers:    workers,
				tasks:      tasks,
				bus:        bus,
				log:        log,
				timer:      timer,
				mem:        mem,
				mismatches: &mismatches,
				submitted:  &submitted,
				stats:      allStats,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	stopWorkload(fmt.Sprintf("%d tasks/unit", tasks))

	timer.Add("tasks", int64(units*tasks))
	for _, stats := range allStats {
		for _, ws := range stats {
			timer.Add("steals", int64(ws.Stolen))
		}
	}

	if n := mismatches.Load(); n > 0 {
		return fmt.Errorf("%d participants observed stale data", n)
	}

	if !quiet {
		printStats(allStats)
		color.New(color.FgGreen).Printf("ok: %d units, %d tasks each\n", units, tasks)
	}
	if timings {
		fmt.Print(timer.Summary())
	}
	return nil
}

type unitParams struct {
	unit       int
	units      int
	workers    int
	tasks      int
	bus        *remote.Bus
	log        *slog.Logger
	timer      *observ.Timer
	mem        []atomic.Int64
	mismatches *atomic.Int64
	submitted  *sync.WaitGroup
	stats      [][]sched.WorkerStats
}

func runUnit(p unitParams) error {
	ep, err := p.bus.Endpoint(gptr.UnitID(p.unit))
	if err != nil {
		return err
	}
	rt, err := sched.New(sched.Options{
		Workers:   p.workers,
		Self:      gptr.UnitID(p.unit),
		Transport: ep,
		Logger:    logging.ForComponent(p.log, fmt.Sprintf("unit%d", p.unit)),
	})
	if err != nil {
		return fmt.Errorf("unit %d: %w", p.unit, err)
	}

	regionOf := func(unit int) gptr.Ptr {
		return gptr.Ptr{Unit: gptr.UnitID(unit), Segment: 0, Offset: 0x40}
	}

	// phase 0: independent compute burst, then a writer on our region
	var burst atomic.Int64
	for i := 0; i < p.tasks; i++ {
		if err := rt.CreateTask(func(tc *sched.TaskCtx, arg any) {
			burst.Add(1)
		}, nil); err != nil {
			return fmt.Errorf("unit %d: %w", p.unit, err)
		}
	}
	self := p.unit
	if err := rt.CreateTask(func(tc *sched.TaskCtx, arg any) {
		p.mem[self].Store(int64(self*100 + 1))
	}, nil, sched.Out(regionOf(self))); err != nil {
		return fmt.Errorf("unit %d: %w", p.unit, err)
	}

	if err := rt.Phase(); err != nil {
		return fmt.Errorf("unit %d: %w", p.unit, err)
	}

	// phase 1: read the neighbor's region; on a single unit this
	// degenerates to a local read-after-write
	src := (p.unit + 1) % p.units
	var saw atomic.Int64
	if err := rt.CreateTask(func(tc *sched.TaskCtx, arg any) {
		saw.Store(p.mem[src].Load())
	}, nil, sched.In(regionOf(src))); err != nil {
		return fmt.Errorf("unit %d: %w", p.unit, err)
	}

	p.submitted.Done()
	p.submitted.Wait()

	stopEpoch := p.timer.Stage("epoch")
	if err := rt.TaskComplete(); err != nil {
		return fmt.Errorf("unit %d: %w", p.unit, err)
	}
	stopEpoch("")

	if burst.Load() != int64(p.tasks) {
		p.mismatches.Add(1)
	}
	if saw.Load() != int64(src*100+1) {
		p.mismatches.Add(1)
	}
	p.stats[p.unit] = rt.Stats()
	return rt.Shutdown()
}

func printStats(allStats [][]sched.WorkerStats) {
	const colWidth = 10
	header := ""
	for _, col := range []string{"unit", "worker", "executed", "stolen"} {
		header += runewidth.FillRight(col, colWidth)
	}
	color.New(color.Bold).Println(header)
	for unit, stats := range allStats {
		for _, ws := range stats {
			fmt.Printf("%s%s%s%s\n",
				runewidth.FillRight(fmt.Sprint(unit), colWidth),
				runewidth.FillRight(fmt.Sprint(ws.Worker), colWidth),
				runewidth.FillRight(fmt.Sprint(ws.Executed), colWidth),
				runewidth.FillRight(fmt.Sprint(ws.Stolen), colWidth))
		}
	}
}
