// Package main implements the frame anomaly detection loop.
//
// This file contains the Detector type which orchestrates the pipeline:
//
//	ingest: capture → normalize → buffer.Push → queue window
//	score:  window → sync weights → predict → score → publish → record anomaly
//	train:  window → model.Train (optional, concurrent with inference)
//
// Ingest queues a snapshot of the window taken right after each push, so the
// score task runs one step per arriving frame, in arrival order. The queue is
// bounded; a frame that finds it full is counted as overflowed and logged,
// never silently merged into a later step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vicelab/framewatch/cmd/detector/metrics"
	"github.com/vicelab/framewatch/pkg/api"
	"github.com/vicelab/framewatch/pkg/buffer"
	"github.com/vicelab/framewatch/pkg/frame"
	"github.com/vicelab/framewatch/pkg/graph"
	"github.com/vicelab/framewatch/pkg/models"
	"github.com/vicelab/framewatch/pkg/scorer"
	"github.com/vicelab/framewatch/pkg/sink"
	"github.com/vicelab/framewatch/pkg/source"
	"github.com/vicelab/framewatch/pkg/storage"
	"github.com/vicelab/framewatch/pkg/weightsync"
)

// ErrPredictionFailure marks a step whose inference failed. The step is skipped
// and the detector keeps running.
var ErrPredictionFailure = errors.New("prediction failed")

// ErrAlreadyStarted is returned by Run on a detector that has been run before.
var ErrAlreadyStarted = errors.New("detector already started")

// ErrNoStore is returned by RequestSave when no weight store is configured.
var ErrNoStore = errors.New("no weight store configured")

// DefaultQueueSize is the number of windows that may wait for scoring.
const DefaultQueueSize = 256

// State is the detector lifecycle: Idle → Running → Stopped.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options are the detector's tunables. Zero values of ContextFrames,
// Threshold, and QueueSize select models.DefaultContext,
// scorer.DefaultThreshold, and DefaultQueueSize.
type Options struct {
	Name          string
	ContextFrames int
	Threshold     float64
	QueueSize     int
	// TrainEvery runs a training step every N scored frames. Zero disables training.
	TrainEvery  int
	WeightsName string
	Restore     bool
	SaveOnExit  bool
	// SaveAbove requests a save on shutdown once a score reaches it. Zero disables it.
	SaveAbove float64
}

// Deps are the detector's collaborators. Source, Buffer, Normalizer, TrainModel,
// and InferModel are required.
type Deps struct {
	Source     source.Source
	Normalizer *frame.Normalizer
	Buffer     *buffer.Buffer
	TrainModel models.Model
	InferModel models.Model
	Syncer     *weightsync.Syncer
	Scorer     *scorer.Scorer
	Graph      *graph.Graph
	Sink       sink.Sink
	Store      storage.Store
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	// OnStateChange is called after every state transition.
	OnStateChange func(State)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes one completed detection step.
type Result struct {
	FrameCount int
	Seq        uint64
	Synced     bool
	Score      float64
	Anomaly    bool
	// NodeIndex is the graph index of the recorded anomaly, or -1.
	NodeIndex int
}

// Detector runs the ingest, score, and train tasks.
type Detector struct {
	opts  Options
	runID string

	source     source.Source
	normalizer *frame.Normalizer
	buffer     *buffer.Buffer
	trainModel models.Model
	inferModel models.Model
	syncer     *weightsync.Syncer
	scorer     *scorer.Scorer
	graph      *graph.Graph
	sink       sink.Sink
	store      storage.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	onState    func(State)
	now        func() time.Time

	windows chan frame.Window
	trainCh chan frame.Window

	started       atomic.Bool
	state         atomic.Int32
	startedAt     atomic.Int64
	frameCount    atomic.Int64
	ingested      atomic.Uint64
	overflowed    atomic.Uint64
	dropped       atomic.Uint64
	lastScore     atomic.Uint64
	hasScore      atomic.Bool
	saveRequested atomic.Bool
}

// New creates a Detector in the Idle state.
func New(opts Options, deps Deps) (*Detector, error) {
	if deps.Source == nil || deps.Normalizer == nil || deps.Buffer == nil {
		return nil, errors.New("detector: source, normalizer, and buffer are required")
	}
	if deps.TrainModel == nil || deps.InferModel == nil {
		return nil, errors.New("detector: training and inference models are required")
	}
	if deps.TrainModel == deps.InferModel {
		return nil, errors.New("detector: training and inference must use separate model instances")
	}
	if w, h := deps.Buffer.Shape(); w != deps.Normalizer.Width || h != deps.Normalizer.Height {
		return nil, fmt.Errorf("detector: normalizer produces %dx%d frames but buffer holds %dx%d",
			deps.Normalizer.Width, deps.Normalizer.Height, w, h)
	}
	if opts.ContextFrames <= 0 {
		opts.ContextFrames = models.DefaultContext
	}
	if opts.Threshold == 0 {
		opts.Threshold = scorer.DefaultThreshold
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.ContextFrames >= deps.Buffer.Capacity() {
		return nil, fmt.Errorf("detector: context of %d frames does not fit a window of %d", opts.ContextFrames, deps.Buffer.Capacity())
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry(), opts.Name)
	}
	syncer := deps.Syncer
	if syncer == nil {
		syncer = weightsync.New(weightsync.DefaultEvery, logger)
	}
	sc := deps.Scorer
	if sc == nil {
		sc = scorer.New()
		sc.ActualOffset = deps.Buffer.Capacity() - 1
		sc.PredictedOffset = deps.InferModel.Horizon() - 1
	}
	g := deps.Graph
	if g == nil {
		g = graph.New()
	}
	sk := deps.Sink
	if sk == nil {
		sk = sink.Discard{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	runID := uuid.NewString()
	d := &Detector{
		opts:       opts,
		runID:      runID,
		source:     deps.Source,
		normalizer: deps.Normalizer,
		buffer:     deps.Buffer,
		trainModel: deps.TrainModel,
		inferModel: deps.InferModel,
		syncer:     syncer,
		scorer:     sc,
		graph:      g,
		sink:       sk,
		store:      deps.Store,
		logger:     logger.With("run_id", runID),
		metrics:    m,
		onState:    deps.OnStateChange,
		now:        now,
		windows:    make(chan frame.Window, opts.QueueSize),
		trainCh:    make(chan frame.Window, 1),
	}
	return d, nil
}

// Run executes the detector until ctx is cancelled, the source is exhausted,
// or the source fails. A source failure is returned wrapped; cancellation
// returns ctx.Err(); an exhausted source returns nil. The detector is Stopped
// when Run returns and cannot be restarted.
func (d *Detector) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	d.restore(ctx)
	d.initialSync(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.startedAt.Store(d.now().UnixNano())
	d.setState(StateRunning)
	d.logger.Info("detector running",
		"source", d.source.Name(),
		"model", d.inferModel.Name(),
		"window", d.buffer.Capacity(),
		"context", d.opts.ContextFrames,
		"horizon", d.inferModel.Horizon(),
		"sync_every", d.syncer.Every(),
		"threshold", d.opts.Threshold,
		"queue_size", d.opts.QueueSize,
	)

	captures := make(chan source.Capture)
	var srcErr error
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(captures)
		srcErr = d.source.Start(runCtx, captures)
	}()

	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		for c := range captures {
			d.Ingest(c)
		}
	}()

	if trainer, ok := d.trainModel.(models.Trainer); ok && d.opts.TrainEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.trainLoop(runCtx, trainer)
		}()
	}

	d.scoreLoop(runCtx, ingestDone)

	cancel()
	wg.Wait()
	<-ingestDone

	d.setState(StateStopped)
	d.saveIfRequested()

	count := int(d.frameCount.Load())
	switch {
	case srcErr != nil:
		d.metrics.RecordError("source", "transport_failed")
		d.logger.Error("detector stopped: source failed", "frame_count", count, "error", srcErr)
		return fmt.Errorf("source %s: %w", d.source.Name(), srcErr)
	case ctx.Err() != nil:
		d.logger.Info("detector stopped", "frame_count", count, "anomalies", d.graph.Len())
		return ctx.Err()
	default:
		d.logger.Info("detector stopped: source exhausted", "frame_count", count, "anomalies", d.graph.Len())
		return nil
	}
}

// scoreLoop runs a step per queued window until ctx is cancelled, or until
// ingest has ended and the queue is drained.
func (d *Detector) scoreLoop(ctx context.Context, ingestDone <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-d.windows:
			d.runStep(ctx, w)
		case <-ingestDone:
			// Every enqueue happened before ingestDone closed.
			for {
				select {
				case <-ctx.Done():
					return
				case w := <-d.windows:
					d.runStep(ctx, w)
				default:
					return
				}
			}
		}
	}
}

func (d *Detector) runStep(ctx context.Context, window frame.Window) {
	if _, err := d.step(ctx, window); err != nil && ctx.Err() == nil {
		d.logger.Warn("detection step failed", "error", err)
	}
}

func (d *Detector) trainLoop(ctx context.Context, trainer models.Trainer) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-d.trainCh:
			start := time.Now()
			if err := trainer.Train(ctx, w); err != nil {
				if ctx.Err() != nil {
					return
				}
				d.metrics.RecordError("model", "train_failed")
				d.logger.Debug("training step failed", "error", err)
				continue
			}
			d.metrics.RecordTrain(time.Since(start).Seconds())
		}
	}
}

// Ingest normalizes one capture, pushes it into the window, and queues the
// resulting window for scoring. It never blocks: when the queue is full the
// frame stays in the window but is not scored, and the overflow is recorded.
//
// Ingest must be called from a single goroutine.
func (d *Detector) Ingest(c source.Capture) {
	f, err := d.normalizer.Normalize(c.Image, c.At)
	if err != nil {
		d.dropped.Add(1)
		d.metrics.RecordError("ingest", "normalize_failed")
		d.logger.Warn("dropping frame", "origin", c.Origin, "error", err)
		return
	}
	if err := d.buffer.Push(f); err != nil {
		d.dropped.Add(1)
		d.metrics.RecordError("ingest", "invalid_shape")
		d.logger.Warn("dropping frame", "seq", f.Seq, "origin", c.Origin, "error", err)
		return
	}

	n := d.ingested.Add(1)
	d.metrics.FramesIngested.Inc()

	select {
	case d.windows <- d.buffer.Current():
	default:
		d.overflowed.Add(1)
		d.metrics.FramesOverflowed.Inc()
		d.metrics.RecordError("ingest", "queue_full")
		d.logger.Warn("score queue full, frame not scored",
			"seq", f.Seq,
			"frames_ingested", n,
			"frame_count", d.frameCount.Load(),
			"queue_size", d.opts.QueueSize,
		)
	}
}

// Step performs one detection transition on the current window: advance the
// frame counter, sync weights when due, predict, score, publish, and record an
// anomaly when the score is strictly below the threshold.
//
// A sync failure is logged and the step continues on stale weights. A
// prediction failure returns an error wrapping ErrPredictionFailure.
func (d *Detector) Step(ctx context.Context) (Result, error) {
	return d.step(ctx, d.buffer.Current())
}

func (d *Detector) step(ctx context.Context, window frame.Window) (Result, error) {
	count := int(d.frameCount.Add(1))
	res := Result{FrameCount: count, Seq: window.Newest().Seq, NodeIndex: -1}
	log := d.logger.With("seq", res.Seq, "frame_count", count)

	if d.opts.TrainEvery > 0 && count%d.opts.TrainEvery == 0 {
		select {
		case d.trainCh <- window:
		default:
			log.Debug("training busy, skipping window")
		}
	}

	start := time.Now()
	synced, err := d.syncer.MaybeSync(ctx, count, d.trainModel, d.inferModel)
	switch {
	case err != nil && errors.Is(err, models.ErrModelShapeMismatch):
		d.metrics.RecordError("sync", "shape_mismatch")
		log.Warn("weight sync skipped, continuing with stale weights", "error", err)
	case err != nil:
		d.metrics.RecordError("sync", "sync_failed")
		log.Warn("weight sync failed, continuing with stale weights", "error", err)
	case synced:
		d.metrics.RecordSync(time.Since(start).Seconds())
	}
	res.Synced = synced
	d.metrics.SetStaleness(d.syncer.Staleness(count))

	start = time.Now()
	prediction, err := d.inferModel.Predict(ctx, window.Context(d.opts.ContextFrames))
	if err != nil {
		d.metrics.RecordError("model", "predict_failed")
		return res, fmt.Errorf("frame %d: %w: %w", count, ErrPredictionFailure, err)
	}
	d.metrics.RecordPredict(time.Since(start).Seconds())

	start = time.Now()
	score, err := d.scorer.Score(window, prediction)
	if err != nil {
		d.metrics.RecordError("scorer", "score_failed")
		return res, fmt.Errorf("frame %d: %w", count, err)
	}
	d.metrics.RecordScore(time.Since(start).Seconds(), score)

	res.Score = score
	res.Anomaly = score < d.opts.Threshold
	d.lastScore.Store(math.Float64bits(score))
	d.hasScore.Store(true)

	now := d.now()
	sample := sink.Sample{Seq: res.Seq, FrameCount: count, Score: score, Anomaly: res.Anomaly, At: now}
	if err := d.sink.Publish(ctx, sample); err != nil {
		d.metrics.RecordError("sink", "publish_failed")
		log.Warn("failed to publish score", "error", err)
	}

	if res.Anomaly {
		res.NodeIndex = d.graph.AppendAnomaly(window.Newest(), score, now)
		d.metrics.RecordAnomaly(d.graph.Len())
		log.Info("anomaly detected", "score", score, "node", res.NodeIndex)
	}

	if d.opts.SaveAbove > 0 && score >= d.opts.SaveAbove && !d.saveRequested.Swap(true) {
		log.Info("score reached save level, weights will be saved on shutdown", "score", score, "save_above", d.opts.SaveAbove)
	}

	return res, nil
}

// initialSync copies the training weights into the inference model before the
// first frame so inference never starts on unsynchronized parameters.
func (d *Detector) initialSync(ctx context.Context) {
	synced, err := d.syncer.MaybeSync(ctx, 0, d.trainModel, d.inferModel)
	if err != nil {
		d.metrics.RecordError("sync", "initial_sync_failed")
		d.logger.Warn("initial weight sync failed", "error", err)
		return
	}
	if synced {
		d.metrics.SyncsTotal.Inc()
	}
}

// restore loads the saved training weights, if enabled and present.
func (d *Detector) restore(ctx context.Context) {
	if !d.opts.Restore || d.store == nil {
		return
	}

	snap, found, err := d.store.GetLatest(ctx, d.opts.WeightsName)
	if err != nil {
		d.metrics.RecordError("store", "restore_failed")
		d.logger.Warn("failed to load saved weights", "name", d.opts.WeightsName, "error", err)
		return
	}
	if !found {
		d.logger.Info("no saved weights, starting fresh", "name", d.opts.WeightsName)
		return
	}
	if err := d.trainModel.SetWeights(ctx, snap.Weights); err != nil {
		d.metrics.RecordError("store", "restore_failed")
		d.logger.Warn("saved weights do not fit the model, starting fresh",
			"name", d.opts.WeightsName,
			"saved_model", snap.Model,
			"error", err,
		)
		return
	}
	d.logger.Info("restored saved weights",
		"name", d.opts.WeightsName,
		"saved_at", snap.SavedAt,
		"saved_frame_count", snap.FrameCount,
	)
}

// saveIfRequested persists the training weights when a save was requested or
// save-on-exit is set. Failures are logged.
func (d *Detector) saveIfRequested() {
	if d.store == nil || !(d.opts.SaveOnExit || d.saveRequested.Load()) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w, err := d.trainModel.Weights(ctx)
	if err != nil {
		d.metrics.RecordError("store", "save_failed")
		d.logger.Error("failed to read weights for saving", "error", err)
		return
	}

	snap := storage.Snapshot{
		Name:       d.opts.WeightsName,
		Model:      d.trainModel.Name(),
		SavedAt:    d.now(),
		FrameCount: int(d.frameCount.Load()),
		Weights:    w,
	}
	if err := d.store.Put(ctx, snap); err != nil {
		d.metrics.RecordError("store", "save_failed")
		d.logger.Error("failed to save weights", "name", snap.Name, "error", err)
		return
	}
	d.saveRequested.Store(false)
	d.logger.Info("saved weights", "name", snap.Name, "frame_count", snap.FrameCount)
}

// RequestSave asks for the training weights to be saved on shutdown. It reports
// whether a save was already pending.
func (d *Detector) RequestSave() (alreadyPending bool, err error) {
	if d.store == nil {
		return false, ErrNoStore
	}
	return d.saveRequested.Swap(true), nil
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	return State(d.state.Load())
}

func (d *Detector) setState(s State) {
	d.state.Store(int32(s))
	d.metrics.SetRunning(s == StateRunning)
	if d.onState != nil {
		d.onState(s)
	}
}

// Ready returns nil while the detector is running.
func (d *Detector) Ready() error {
	if s := d.State(); s != StateRunning {
		return fmt.Errorf("detector is %s", s)
	}
	return nil
}

// Graph returns the anomaly knowledge graph.
func (d *Detector) Graph() *graph.Graph {
	return d.graph
}

// Status reports counters and the current state.
func (d *Detector) Status() api.Status {
	count := int(d.frameCount.Load())
	st := api.Status{
		Name:             d.opts.Name,
		RunID:            d.runID,
		State:            d.State().String(),
		Source:           d.source.Name(),
		Model:            d.inferModel.Name(),
		FramesIngested:   d.ingested.Load(),
		FramesProcessed:  count,
		FramesOverflowed: d.overflowed.Load(),
		FramesDropped:    d.dropped.Load(),
		Threshold:        d.opts.Threshold,
		Anomalies:        d.graph.Len(),
		SyncEvery:        d.syncer.Every(),
		Staleness:        d.syncer.Staleness(count),
		SavePending:      d.opts.SaveOnExit || d.saveRequested.Load(),
	}
	if ns := d.startedAt.Load(); ns != 0 {
		st.StartedAt = time.Unix(0, ns).UTC()
	}
	if d.hasScore.Load() {
		s := math.Float64frombits(d.lastScore.Load())
		st.LastScore = &s
	}
	if last, _, ok := d.syncer.LastSync(); ok {
		st.LastSyncFrame = last
	}
	return st
}
