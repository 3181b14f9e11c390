package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/billm/baaaht/softbus/internal/config"
	"github.com/billm/baaaht/softbus/internal/logger"
	"github.com/billm/baaaht/softbus/pkg/bufpool"
	"github.com/billm/baaaht/softbus/pkg/osal/task"
	"github.com/billm/baaaht/softbus/pkg/softbus"
	"github.com/billm/baaaht/softbus/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct{ stats softbus.Stats }

func (f fixedSource) Stats() softbus.Stats { return f.stats }

func testConfig() config.MetricsConfig {
	return config.MetricsConfig{Enabled: true, Namespace: "softbus", Subsystem: "sb"}
}

func sampleStats() softbus.Stats {
	return softbus.Stats{
		Counters: softbus.Counters{
			NoSubscribersCounter:     7,
			PipeOverflowErrorCounter: 2,
		},
		MsgIDsInUse:    3,
		MaxMsgIDs:      256,
		PipesInUse:     1,
		PeakPipesInUse: 4,
		MaxPipes:       64,
		Pool:           bufpool.Stats{BufsInUse: 5, PeakBufsInUse: 9, MemInUse: 320},
		Pipes: []softbus.PipeDepthStats{
			{Pipe: types.PipeID(2), Name: "tlm", Depth: 8, Current: 3, Peak: 6},
		},
	}
}

func TestCollectorValues(t *testing.T) {
	c := NewCollector(fixedSource{sampleStats()}, testConfig())

	expected := `
# HELP softbus_sb_no_subscribers_total Messages sent with no subscriber.
# TYPE softbus_sb_no_subscribers_total counter
softbus_sb_no_subscribers_total 7
# HELP softbus_sb_pipe_overflows_total Deliveries dropped on a full pipe.
# TYPE softbus_sb_pipe_overflows_total counter
softbus_sb_pipe_overflows_total 2
# HELP softbus_sb_pipes_in_use_peak Most pipes ever in use.
# TYPE softbus_sb_pipes_in_use_peak gauge
softbus_sb_pipes_in_use_peak 4
# HELP softbus_sb_buffers_in_use Message buffers held.
# TYPE softbus_sb_buffers_in_use gauge
softbus_sb_buffers_in_use 5
# HELP softbus_sb_pipe_queued Messages waiting on a pipe.
# TYPE softbus_sb_pipe_queued gauge
softbus_sb_pipe_queued{name="tlm",pipe="2"} 3
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"softbus_sb_no_subscribers_total",
		"softbus_sb_pipe_overflows_total",
		"softbus_sb_pipes_in_use_peak",
		"softbus_sb_buffers_in_use",
		"softbus_sb_pipe_queued")
	require.NoError(t, err)
}

func TestCollectorCount(t *testing.T) {
	c := NewCollector(fixedSource{sampleStats()}, testConfig())
	// 11 counters, 12 gauges and three per pipe
	assert.Equal(t, 11+12+3, testutil.CollectAndCount(c))

	empty := NewCollector(fixedSource{}, testConfig())
	assert.Equal(t, 11+12, testutil.CollectAndCount(empty))
}

func TestCollectorLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCollector(fixedSource{sampleStats()}, testConfig()))
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestCollectorOverLiveBus(t *testing.T) {
	b, err := softbus.New(config.Default(), softbus.WithLogger(logger.NewDiscard()))
	require.NoError(t, err)
	defer b.Close()

	ctx := task.WithID(context.Background(), 1)
	_, err = b.CreatePipe(ctx, 4, "live")
	require.NoError(t, err)

	reg, err := NewRegistry(b, testConfig())
	require.NoError(t, err)
	assert.Equal(t, 11+12+3, testutil.CollectAndCount(reg))

	expected := `
# HELP softbus_sb_pipes_in_use Pipes in use.
# TYPE softbus_sb_pipes_in_use gauge
softbus_sb_pipes_in_use 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "softbus_sb_pipes_in_use"))
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softbus.prom")
	require.NoError(t, WriteTextfile(path, fixedSource{sampleStats()}, testConfig()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "softbus_sb_no_subscribers_total 7")
	assert.Contains(t, string(data), `softbus_sb_pipe_depth{name="tlm",pipe="2"} 8`)
}
