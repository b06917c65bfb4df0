// Package onnx runs YOLO object detection models (v8 and later) that have been
// exported to ONNX, using the onnxruntime shared library.
package onnx

import (
	"fmt"
	"image"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/cyclopcam/fallwatch/pkg/buildinfo"
	"github.com/cyclopcam/fallwatch/pkg/nn"
	"github.com/cyclopcam/logs"
	ort "github.com/yalue/onnxruntime_go"
)

var initLock sync.Mutex
var isInitialized bool

// Initialize loads the onnxruntime shared library. This must be called once at startup,
// before creating any detectors. libPath may be empty, in which case we use the library
// installed by our package, or failing that, the onnxruntime_go platform default.
func Initialize(logger logs.Log, libPath string) error {
	initLock.Lock()
	defer initLock.Unlock()
	if isInitialized {
		return nil
	}
	if libPath == "" {
		if packaged := buildinfo.PackagedLibrary("libonnxruntime.so"); packaged != "" {
			if _, err := os.Stat(packaged); err == nil {
				libPath = packaged
			}
		}
	}
	if libPath != "" {
		if _, err := os.Stat(libPath); err != nil {
			return fmt.Errorf("onnxruntime library not found: %w", err)
		}
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("Failed to initialize onnxruntime: %w", err)
	}
	logger.Infof("onnxruntime initialized (%v)", libPath)
	isInitialized = true
	return nil
}

// Shutdown releases the onnxruntime environment. All detectors must be closed first.
func Shutdown() {
	initLock.Lock()
	defer initLock.Unlock()
	if isInitialized {
		ort.DestroyEnvironment()
		isInitialized = false
	}
}

// Detector is an nn.ObjectDetector backed by an onnxruntime session
type Detector struct {
	config  nn.ModelConfig
	lock    sync.Mutex // Guards the session and its tensors. Only one inference at a time.
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	nBoxes  int
}

// Returns the model config filename that sits alongside an .onnx file.
// eg "models/fall.onnx" -> "models/fall.json"
func ConfigFilename(modelPath string) string {
	return strings.TrimSuffix(modelPath, ".onnx") + ".json"
}

// Load a model from disk. The model config is read from the JSON file next to the model.
func LoadDetector(logger logs.Log, modelPath string, threadingMode nn.ThreadingMode) (*Detector, error) {
	config, err := nn.LoadModelConfig(ConfigFilename(modelPath))
	if err != nil {
		return nil, fmt.Errorf("Failed to load model config: %w", err)
	}
	return NewDetector(logger, modelPath, config, threadingMode)
}

func NewDetector(logger logs.Log, modelPath string, config *nn.ModelConfig, threadingMode nn.ThreadingMode) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	nThreads := 1
	if threadingMode == nn.ThreadingModeParallel {
		nThreads = runtime.NumCPU()
	}
	options.SetIntraOpNumThreads(nThreads)
	options.SetInterOpNumThreads(nThreads)

	nBoxes := NumPredictions(config.Width, config.Height)
	inputShape := ort.NewShape(1, 3, int64(config.Height), int64(config.Width))
	outputShape := ort.NewShape(1, int64(4+len(config.Classes)), int64(nBoxes))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session for %v: %w", modelPath, err)
	}

	logger.Infof("Loaded %v model %v (%v x %v, %v classes)", config.Architecture, modelPath, config.Width, config.Height, len(config.Classes))

	return &Detector{
		config:  *config,
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		nBoxes:  nBoxes,
	}, nil
}

func (d *Detector) Close() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) DetectObjects(img image.Image, params *nn.DetectionParams) ([]nn.Detection, error) {
	p := params.WithDefaults()

	d.lock.Lock()
	defer d.lock.Unlock()
	if d.session == nil {
		return nil, fmt.Errorf("Detector is closed")
	}

	xform := Letterbox(img, d.config.Width, d.config.Height, d.input.GetData())
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	raw := DecodeOutput(d.output.GetData(), len(d.config.Classes), d.nBoxes, p.ProbabilityThreshold)

	b := img.Bounds()
	for i := range raw {
		raw[i].Box = xform.ToSource(raw[i].Box).Clip(int32(b.Dx()), int32(b.Dy()))
		raw[i].Label = d.config.Classes[raw[i].Class]
	}
	return nn.NMS(raw, p.NmsIouThreshold), nil
}

// Returns the number of anchor points of a YOLOv8 style head, with strides 8, 16 and 32
func NumPredictions(width, height int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		n += (width / stride) * (height / stride)
	}
	return n
}
