// Package nn is the object detection interface layer.
// Concrete model runtimes (eg onnx) live in their own packages.
package nn

import (
	"bufio"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
)

// Fall models are trained to be run with a confidence threshold of 0.8
const DefaultProbabilityThreshold = 0.8
const DefaultNmsIouThreshold = 0.45

// Detection is an object that a neural network has found in an image
type Detection struct {
	Class      int     `json:"class"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

// Returns a copy of p, with zero values replaced by defaults
func (p *DetectionParams) WithDefaults() DetectionParams {
	c := DetectionParams{}
	if p != nil {
		c = *p
	}
	if c.ProbabilityThreshold == 0 {
		c.ProbabilityThreshold = DefaultProbabilityThreshold
	}
	if c.NmsIouThreshold == 0 {
		c.NmsIouThreshold = DefaultNmsIouThreshold
	}
	return c
}

type ThreadingMode int

const (
	ThreadingModeSingle   ThreadingMode = iota // Force the NN library to run inference on a single thread
	ThreadingModeParallel                      // Allow the NN library to run multiple threads while executing a model
)

// ObjectDetector is given an image, and returns zero or more detected objects
type ObjectDetector interface {
	// Close closes the detector (you MUST call this when finished, because there is a C++ runtime underneath)
	Close()

	// DetectObjects returns a list of objects detected in the image, in the coordinate space of img.
	// You can create a default DetectionParams with NewDetectionParams()
	DetectObjects(img image.Image, params *DetectionParams) ([]Detection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 640
	Height       int      `json:"height"`       // eg 640
	Classes      []string `json:"classes"`      // eg ["Fall-Detected", "Walking", "Sitting"]
}

// Returns the index of the class, or -1 if the model doesn't know about it
func (c *ModelConfig) ClassIndex(label string) int {
	for i, cls := range c.Classes {
		if cls == label {
			return i
		}
	}
	return -1
}

func (c *ModelConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("Invalid model input size %v x %v", c.Width, c.Height)
	}
	if len(c.Classes) == 0 {
		return fmt.Errorf("Model has no classes")
	}
	return nil
}

// Load model config from a JSON file.
// If the JSON has no classes, they are read from a ".names" file next to it
// (one class per line, as exported by most YOLO training tools).
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, fmt.Errorf("Error parsing model config %v: %w", filename, err)
	}
	if len(config.Classes) == 0 {
		namesFile := ClassFilename(filename)
		if config.Classes, err = LoadClassFile(namesFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("Error reading class file %v: %w", namesFile, err)
		}
	}
	return config, config.Validate()
}

// Returns the ".names" class file that accompanies a model config file
func ClassFilename(configFilename string) string {
	return strings.TrimSuffix(configFilename, filepath.Ext(configFilename)) + ".names"
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}

// Returns true if any of the detections carries the given label
func HasLabel(dets []Detection, label string) bool {
	for _, d := range dets {
		if d.Label == label {
			return true
		}
	}
	return false
}
