package refresh

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/infrastructure/config"
	"github.com/nerrad567/reolink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/reolink-core/internal/transport"
)

// Sender routes one request. *transport.Router satisfies it.
type Sender interface {
	Send(ctx context.Context, dev *device.Device, req transport.Request) ([]transport.Result, error)
}

// Sink receives each batch's results as soon as they arrive.
type Sink func(batch int, results []transport.Result)

// Scheduler turns a command set into read batches and sends them.
type Scheduler struct {
	sender    Sender
	batchSize int
}

// NewScheduler creates a scheduler. batchSize is clamped to the supported
// range; zero or less selects the default.
func NewScheduler(sender Sender, batchSize int) *Scheduler {
	return &Scheduler{sender: sender, batchSize: clampBatchSize(batchSize)}
}

func clampBatchSize(n int) int {
	switch {
	case n <= 0:
		return config.DefaultBatchSize
	case n < config.MinBatchSize:
		return config.MinBatchSize
	case n > config.MaxBatchSize:
		return config.MaxBatchSize
	}
	return n
}

// BatchSize returns the effective batch size.
func (s *Scheduler) BatchSize() int { return s.batchSize }

// Plan returns the distinct read payloads of dev's info commands in
// command order, with the channel substituted and escapes removed.
func (s *Scheduler) Plan(dev *device.Device, cmds device.CommandSet) []string {
	ordered := cmds.Clone()
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	channel := strconv.Itoa(dev.Channel)
	seen := make(map[string]struct{})
	var plan []string
	for _, c := range ordered {
		if !c.IsInfo() || c.Config.Payload == "" {
			continue
		}
		p := strings.ReplaceAll(c.Config.Payload, `\`, "")
		p = strings.ReplaceAll(p, "#CHANNEL#", channel)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		plan = append(plan, p)
	}
	return plan
}

// Chunk splits plan into batches of at most BatchSize payloads.
func (s *Scheduler) Chunk(plan []string) [][]string {
	var batches [][]string
	for start := 0; start < len(plan); start += s.batchSize {
		end := min(start+s.batchSize, len(plan))
		batches = append(batches, plan[start:end])
	}
	return batches
}

// RunReadCycle reads dev's state. Children make a single mediated call
// that returns the whole channel; other devices send one call per batch,
// strictly in sequence. The first failing batch stops the cycle with a
// *BatchError; results already handed to sink are kept.
func (s *Scheduler) RunReadCycle(ctx context.Context, dev *device.Device, cmds device.CommandSet, sink Sink) ([]transport.Result, error) {
	plan := s.Plan(dev, cmds)
	if len(plan) == 0 {
		return nil, nil
	}

	batches := [][]string{plan}
	if !dev.IsChild() {
		batches = s.Chunk(plan)
	}

	var all []transport.Result
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return all, &BatchError{Batch: i, Err: err}
		}
		results, err := s.sender.Send(ctx, dev, transport.Request{Op: transport.OpRead, Payloads: batch})
		if err != nil {
			return all, &BatchError{Batch: i, Err: err}
		}
		metrics.RefreshBatch()
		all = append(all, results...)
		if sink != nil {
			sink(i, results)
		}
	}
	return all, nil
}
