package cmd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/billm/baaaht/softbus/internal/logger"
	"github.com/billm/baaaht/softbus/pkg/dump"
	"github.com/billm/baaaht/softbus/pkg/events"
	"github.com/billm/baaaht/softbus/pkg/metrics"
	"github.com/billm/baaaht/softbus/pkg/osal/task"
	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/softbus"
	"github.com/billm/baaaht/softbus/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Demo message IDs
const (
	demoHKTlmID   types.MsgID = 0x0801
	demoAttTlmID  types.MsgID = 0x0802
	demoLocalID   types.MsgID = 0x0803
	demoSCCmdID   types.MsgID = 0x1880
	demoTlmSize               = packet.TlmHeaderSize + 4
	demoCmdSize               = packet.CmdHeaderSize + 4
	demoPipeDepth             = 32
	demoWaitMs                = 20
)

var (
	demoCycles      int
	demoZeroCopy    bool
	demoDumpKind    string
	demoMetricsFile string
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a producer/consumer workload against a bus",
	Long: `Run a small flight-software style workload against a bus: a sensor task
publishes telemetry, a ground task sends checksummed commands, and
housekeeping, stored-command and network tasks receive them. The routing
table, pipes and statistics are rendered when the run completes.`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().IntVar(&demoCycles, "cycles", 10, "Number of publish cycles")
	demoCmd.Flags().BoolVar(&demoZeroCopy, "zero-copy", false, "Publish telemetry through zero-copy buffers")
	demoCmd.Flags().StringVar(&demoDumpKind, "dump", "", "Write a dump of this kind when done: all, routing, pipes, msgmap, stats")
	demoCmd.Flags().StringVar(&demoMetricsFile, "metrics-file", "", "Write Prometheus text-format metrics to this file when done")
}

// demoResult collects what the consumer tasks saw
type demoResult struct {
	telemetry    atomic.Uint64
	commands     atomic.Uint64
	badChecksums atomic.Uint64
	reports      atomic.Uint64
}

func runDemo(cmd *cobra.Command, args []string) error {
	if demoCycles <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, fmt.Sprintf("cycles must be positive, got %d", demoCycles))
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runID := uuid.NewString()
	log := rootLog
	if log == nil {
		log = logger.NewDiscard()
	}
	log = log.With("component", "demo", "run_id", runID)

	sink, err := events.New(cfg.Events, log)
	if err != nil {
		return err
	}
	rec := events.NewRecorder()
	if _, err := sink.Subscribe(types.EventFilter{}, rec); err != nil {
		sink.Close()
		return err
	}
	if cfg.Events.LogEvents {
		if _, err := sink.Subscribe(types.EventFilter{}, events.NewLoggingHandler(log)); err != nil {
			sink.Close()
			return err
		}
	}

	tasks := task.NewRegistry(log)
	bus, err := softbus.New(cfg, softbus.WithLogger(log), softbus.WithSink(sink), softbus.WithTaskNamer(tasks))
	if err != nil {
		sink.Close()
		return err
	}

	var res demoResult
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, section("Softbus demo", styles.Muted.Render("run "+runID)))

	runErr := demoWorkload(ctx, bus, tasks, &res)
	if runErr == nil {
		fmt.Fprint(out, section("Routing", renderRoutes(bus.RoutingSnapshot())))
		fmt.Fprint(out, section("Pipes", renderPipes(bus.PipeSnapshot())))
		fmt.Fprint(out, section("Statistics", renderStats(bus.Stats())))
		fmt.Fprintf(out, "%s telemetry=%d commands=%d bad_checksums=%d sub_reports=%d\n\n",
			styles.Subtitle.Render("received:"),
			res.telemetry.Load(), res.commands.Load(), res.badChecksums.Load(), res.reports.Load())

		runErr = demoOutputs(out, bus)
	}

	for _, info := range tasks.List() {
		if err := bus.CleanupTask(ctx, info.ID); err != nil {
			log.Warn("Failed to clean up task", "task", info.Name, "error", err)
		}
		tasks.Unregister(info.ID)
	}
	if err := bus.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprint(out, section("Events", renderEventSummary(rec.Events())))
	log.Info("Demo complete", "stats", sink.Stats().String())
	return nil
}

// demoWorkload sets up the demo tasks and runs them to completion
func demoWorkload(ctx context.Context, bus *softbus.Bus, tasks *task.Registry, res *demoResult) error {
	sbnCtx, _, err := tasks.Context(ctx, "SBN")
	if err != nil {
		return err
	}
	hkCtx, hkID, err := tasks.Context(ctx, "HK")
	if err != nil {
		return err
	}
	scCtx, scID, err := tasks.Context(ctx, "SC")
	if err != nil {
		return err
	}
	_, sensorID, err := tasks.Context(ctx, "SENSOR")
	if err != nil {
		return err
	}
	_, groundID, err := tasks.Context(ctx, "GROUND")
	if err != nil {
		return err
	}

	// The network task listens for subscription reports before anyone else
	// subscribes so it sees every one of them.
	sbnPipe, err := bus.CreatePipe(sbnCtx, demoPipeDepth, "SBN_SUB_PIPE")
	if err != nil {
		return err
	}
	for _, id := range []types.MsgID{types.MsgID(cfg.Bus.OneSubReportMsgID), types.MsgID(cfg.Bus.AllSubsReportMsgID)} {
		if err := bus.SubscribeLocal(sbnCtx, id, sbnPipe, demoPipeDepth); err != nil {
			return err
		}
	}

	hkPipe, err := bus.CreatePipe(hkCtx, demoPipeDepth, "HK_TLM_PIPE")
	if err != nil {
		return err
	}
	if err := bus.SubscribeEx(hkCtx, demoHKTlmID, hkPipe, types.QoS{Priority: 1}, demoPipeDepth); err != nil {
		return err
	}
	if err := bus.SubscribeEx(hkCtx, demoAttTlmID, hkPipe, types.DefaultQoS, demoPipeDepth); err != nil {
		return err
	}
	if err := bus.SubscribeLocal(hkCtx, demoLocalID, hkPipe, demoPipeDepth); err != nil {
		return err
	}

	scPipe, err := bus.CreatePipe(scCtx, demoPipeDepth, "SC_CMD_PIPE")
	if err != nil {
		return err
	}
	if err := bus.SubscribeEx(scCtx, demoSCCmdID, scPipe, types.QoS{Priority: 2, Reliability: 1}, demoPipeDepth); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		p, pctx := errgroup.WithContext(gctx)
		p.Go(func() error { return publishTelemetry(task.WithID(pctx, sensorID), bus) })
		p.Go(func() error { return sendCommands(task.WithID(pctx, groundID), bus) })
		return p.Wait()
	})
	g.Go(func() error {
		return drainPipe(task.WithID(gctx, hkID), bus, hkPipe, done, func(msg packet.Message) {
			res.telemetry.Add(1)
		})
	})
	g.Go(func() error {
		return drainPipe(task.WithID(gctx, scID), bus, scPipe, done, func(msg packet.Message) {
			res.commands.Add(1)
			if !packet.ValidateChecksum(msg) {
				res.badChecksums.Add(1)
			}
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Ask for the full subscription list and read back everything the
	// network task was sent.
	if _, err := bus.SendPrevSubs(sbnCtx); err != nil {
		return err
	}
	closed := make(chan struct{})
	close(closed)
	return drainPipe(sbnCtx, bus, sbnPipe, closed, func(msg packet.Message) {
		switch msg.MsgID() {
		case types.MsgID(cfg.Bus.OneSubReportMsgID):
			if _, err := softbus.ParseSubReport(msg); err == nil {
				res.reports.Add(1)
			}
		case types.MsgID(cfg.Bus.AllSubsReportMsgID):
			if page, err := softbus.ParseSubPage(msg); err == nil {
				res.reports.Add(uint64(len(page.Entries)))
			}
		}
	})
}

// publishTelemetry sends each telemetry packet once per cycle
func publishTelemetry(ctx context.Context, bus *softbus.Bus) error {
	for i := 0; i < demoCycles; i++ {
		for _, id := range []types.MsgID{demoHKTlmID, demoAttTlmID, demoLocalID} {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := publishOne(ctx, bus, id, uint32(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func publishOne(ctx context.Context, bus *softbus.Bus, id types.MsgID, cycle uint32) error {
	if demoZeroCopy {
		msg, err := bus.AllocateMessageBuffer(ctx, demoTlmSize)
		if err != nil {
			return err
		}
		if err := packet.InitHeader(msg, id, demoTlmSize, true); err != nil {
			bus.ReleaseMessageBuffer(ctx, msg)
			return err
		}
		binary.BigEndian.PutUint32(msg.Payload(), cycle)
		return bus.ZeroCopySend(ctx, msg)
	}

	msg, err := packet.New(id, demoTlmSize)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(msg.Payload(), cycle)
	return bus.TransmitMsg(ctx, msg, true)
}

// sendCommands sends one checksummed command per cycle
func sendCommands(ctx context.Context, bus *softbus.Bus) error {
	for i := 0; i < demoCycles; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := packet.New(demoSCCmdID, demoCmdSize)
		if err != nil {
			return err
		}
		if err := msg.SetFunctionCode(uint8(i % 4)); err != nil {
			return err
		}
		binary.BigEndian.PutUint32(msg.Payload(), uint32(i))
		if err := packet.LoadChecksum(msg); err != nil {
			return err
		}
		if err := bus.TransmitMsg(ctx, msg, true); err != nil {
			return err
		}
	}
	return nil
}

// drainPipe receives from pipe until done is closed and the pipe stays empty
// for one wait period
func drainPipe(ctx context.Context, bus *softbus.Bus, pipe types.PipeID, done <-chan struct{}, handle func(packet.Message)) error {
	for {
		msg, err := bus.ReceiveBuffer(ctx, pipe, demoWaitMs)
		switch {
		case err == nil:
			handle(msg)
		case errors.Is(err, softbus.ErrTimeOut):
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		default:
			return err
		}
	}
}

// demoOutputs writes the optional dump and metrics files
func demoOutputs(out io.Writer, bus *softbus.Bus) error {
	if demoDumpKind != "" {
		snap, err := dump.Take(bus, dump.Kind(demoDumpKind))
		if err != nil {
			return err
		}
		path, err := dump.WriteFile(cfg.Dump, snap)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", styles.Subtitle.Render("dump written:"), path)
	}
	if demoMetricsFile != "" {
		if err := metrics.WriteTextfile(demoMetricsFile, bus, cfg.Metrics); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", styles.Subtitle.Render("metrics written:"), demoMetricsFile)
	}
	return nil
}
