package detector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Trendyol/go-triton-client/base"
	tritonGrpc "github.com/Trendyol/go-triton-client/client/grpc"
	"github.com/Trendyol/go-triton-client/options"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"trackcast/internal/config"
	"trackcast/internal/stream"
	"trackcast/pkg/log"
)

const (
	inputFrame      = "FRAME"
	inputSequenceID = "SEQUENCE_ID"
	inputTracker    = "TRACKER"
	outputDetection = "DETECTIONS"

	// x1, y1, x2, y2, confidence, class_id and, when tracking, track_id
	detectionColumns        = 6
	trackedDetectionColumns = 7
)

func NewTritonClient(serverAddr string) (base.Client, error) {
	return tritonGrpc.NewClient(
		serverAddr,
		false, // verbose logging
		30,    // connection timeout in seconds
		30,    // network timeout in seconds
		false, // use SSL
		true,  // insecure connection
		nil,   // existing gRPC connection
		nil,   // logger
	)
}

// CheckReady verifies the server is live and ready and that the model can serve requests.
func CheckReady(ctx context.Context, client base.Client, modelName, modelVersion string) error {
	if isLive, err := client.IsServerLive(ctx, nil); err != nil {
		return err
	} else if !isLive {
		return errors.New("triton server is not live")
	}

	if isReady, err := client.IsServerReady(ctx, nil); err != nil {
		return err
	} else if !isReady {
		return errors.New("triton server is not ready")
	}

	if isReady, err := client.IsModelReady(ctx, modelName, modelVersion, nil); err != nil {
		return err
	} else if !isReady {
		return fmt.Errorf("triton model %s is not ready", modelName)
	}
	return nil
}

// TritonDetector runs detection and tracking in a Triton model. With tracking enabled the model keys
// its tracker state by the SEQUENCE_ID input, so every TritonDetector owns one tracker.
type TritonDetector struct {
	client       base.Client
	modelName    string
	modelVersion string
	labels       map[int]string
	timeout      time.Duration
	sequenceID   int64
	// set once a tracked request was sent, so the model holds state for sequenceID
	tracked atomic.Bool
}

func NewTritonDetector(client base.Client, conf config.DetectorConfig, sequenceID int64) *TritonDetector {
	version := conf.ModelVersion
	if version == "" {
		version = "1"
	}
	return &TritonDetector{
		client:       client,
		modelName:    conf.ModelName,
		modelVersion: version,
		labels:       conf.LabelMap(),
		timeout:      conf.Timeout,
		sequenceID:   sequenceID,
	}
}

func (d *TritonDetector) SequenceID() int64 {
	return d.sequenceID
}

// Infer sends frame to the model. Once started, a request is never abandoned on ctx cancellation so
// the tracker state stays consistent with the frames it has seen.
func (d *TritonDetector) Infer(ctx context.Context, frame gocv.Mat, params stream.Params) ([]stream.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", stream.ErrInferenceFailure)
	}
	inputs, err := d.buildInputs(frame.ToBytes(), []int64{int64(frame.Rows()), int64(frame.Cols()), 3}, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stream.ErrInferenceFailure, err)
	}
	if params.Tracking {
		d.tracked.Store(true)
	}

	values, err := d.infer(ctx, inputs, nil)
	if err != nil {
		d.logger(ctx).WithError(err).Error("inference failed")
		return nil, fmt.Errorf("%w: %v", stream.ErrInferenceFailure, err)
	}
	return parseDetections(values, params, d.labels), nil
}

// EndSequence tells the model that no more frames follow for this detector's sequence so it can
// drop the tracker state. It sends an empty frame flagged with sequence_end and does nothing when
// no tracked frame was ever sent.
func (d *TritonDetector) EndSequence(ctx context.Context) error {
	if !d.tracked.CompareAndSwap(true, false) {
		return nil
	}
	inputs, err := d.buildInputs([]byte{}, []int64{0, 0, 3}, stream.Params{Tracking: true})
	if err != nil {
		return err
	}
	sequenceID, end := int(d.sequenceID), true
	if _, err := d.infer(ctx, inputs, &options.InferOptions{SequenceID: &sequenceID, SequenceEnd: &end}); err != nil {
		d.logger(ctx).WithError(err).Warn("end sequence failed")
		return err
	}
	return nil
}

func (d *TritonDetector) infer(ctx context.Context, inputs []base.InferInput, opts *options.InferOptions) ([]float32, error) {
	outputs := []base.InferOutput{
		tritonGrpc.NewInferOutput(outputDetection, map[string]any{"binary_data": false}),
	}

	inferCtx := context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		inferCtx, cancel = context.WithTimeout(inferCtx, d.timeout)
		defer cancel()
	}

	response, err := d.client.Infer(
		inferCtx,
		d.modelName,
		d.modelVersion,
		inputs,
		outputs,
		opts,
	)
	if err != nil {
		return nil, err
	}

	values, err := response.AsFloat32Slice(outputDetection)
	if err != nil {
		return nil, fmt.Errorf("failed to get detection data: %v", err)
	}
	return values, nil
}

func (d *TritonDetector) logger(ctx context.Context) *logrus.Entry {
	return log.GetLogger(ctx).WithFields(logrus.Fields{
		"component": "detector",
		"model":     d.modelName,
		"sequence":  d.sequenceID,
	})
}

func (d *TritonDetector) buildInputs(pixels []byte, shape []int64, params stream.Params) ([]base.InferInput, error) {
	frameInput := tritonGrpc.NewInferInput(inputFrame, "BYTES", shape, nil)
	if err := frameInput.SetData(pixels, true); err != nil {
		return nil, fmt.Errorf("failed to set FRAME input data: %v", err)
	}
	frameInput.SetDatatype("UINT8")
	inputs := []base.InferInput{frameInput}

	if !params.Tracking {
		return inputs, nil
	}

	seqInput := tritonGrpc.NewInferInput(inputSequenceID, "INT64", []int64{1}, nil)
	if err := seqInput.SetData([]int64{d.sequenceID}, true); err != nil {
		return nil, fmt.Errorf("failed to set SEQUENCE_ID input data: %v", err)
	}
	inputs = append(inputs, seqInput)

	if params.TrackerProfile != "" {
		trackerInput := tritonGrpc.NewInferInput(inputTracker, "BYTES", []int64{1}, nil)
		if err := trackerInput.SetData([]string{params.TrackerProfile}, true); err != nil {
			return nil, fmt.Errorf("failed to set TRACKER input data: %v", err)
		}
		inputs = append(inputs, trackerInput)
	}
	return inputs, nil
}

// parseDetections decodes the flat DETECTIONS output and applies params. A negative track id means
// the tracker has not assigned one yet. Trailing partial rows are ignored.
func parseDetections(values []float32, params stream.Params, labels map[int]string) []stream.Detection {
	columns := detectionColumns
	if params.Tracking {
		columns = trackedDetectionColumns
	}

	detections := make([]stream.Detection, 0, len(values)/columns)
	for i := 0; i+columns <= len(values); i += columns {
		row := values[i : i+columns]
		d := stream.Detection{
			X1:         int(row[0]),
			Y1:         int(row[1]),
			X2:         int(row[2]),
			Y2:         int(row[3]),
			Confidence: row[4],
			ClassID:    int(row[5]),
		}
		d.Label = labels[d.ClassID]
		if columns == trackedDetectionColumns && row[6] >= 0 {
			trackID := int(row[6])
			d.TrackID = &trackID
		}
		detections = append(detections, d)
	}
	return params.Apply(detections)
}
