package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cyclopcam/fallwatch/pkg/nn"
)

const (
	DefaultFilename         = "fallwatch.json"
	DefaultCamera           = "webcam:0"
	DefaultThresholdSeconds = 5
	DefaultTargetLabel      = "Fall-Detected"
	DefaultAlertPrefix      = "Fall"
	DefaultModel            = "models/fall.onnx"
	DefaultHTTPAddress      = ":8080"
	DefaultDBPath           = "fallwatch.sqlite"
	DefaultRetryDelay       = time.Second
)

// Secrets that may be supplied through the environment instead of the config file
const (
	EnvTwilioAccountSID = "TWILIO_ACCOUNT_SID"
	EnvTwilioAuthToken  = "TWILIO_AUTH_TOKEN"
	EnvTwilioFrom       = "TWILIO_FROM_NUMBER"
	EnvTwilioTo         = "TWILIO_TO_NUMBER"
)

type Twilio struct {
	AccountSID string `json:"accountSid"`
	AuthToken  string `json:"authToken"`
	From       string `json:"from"` // Phone number the SMS is sent from, eg +15551234567
	To         string `json:"to"`   // Phone number that receives alerts
}

// Returns true if enough is configured to send real SMS messages
func (t *Twilio) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.From != "" && t.To != ""
}

type Config struct {
	Camera            string  `json:"camera"`            // http(s)://host/snapshot.jpg, or webcam:N
	ThresholdSeconds  float64 `json:"thresholdSeconds"`  // Target must be visible for longer than this before an alert fires
	TargetLabel       string  `json:"targetLabel"`       // Model class that triggers alerts, eg Fall-Detected
	AlertPrefix       string  `json:"alertPrefix"`       // First word of the SMS, eg "Fall" makes "Fall DETECTED! ..."
	Model             string  `json:"model"`             // Path to the .onnx model. The .json side-car must sit next to it.
	OnnxRuntimeLib    string  `json:"onnxRuntimeLib"`    // Path to libonnxruntime.so. Blank uses the system default.
	Confidence        float32 `json:"confidence"`        // Minimum detection confidence
	RetryDelaySeconds float64 `json:"retryDelaySeconds"` // Sleep after a transient camera error
	HTTPAddress       string  `json:"httpAddress"`       // Blank disables the HTTP server
	DBPath            string  `json:"dbPath"`            // Alert history database
	Window            bool    `json:"window"`            // Show annotated frames in a local window
	DryRun            bool    `json:"dryRun"`            // Log alerts instead of sending SMS
	Twilio            Twilio  `json:"twilio"`
}

// Returns a config populated with defaults
func NewConfig() *Config {
	return &Config{
		Camera:            DefaultCamera,
		ThresholdSeconds:  DefaultThresholdSeconds,
		TargetLabel:       DefaultTargetLabel,
		AlertPrefix:       DefaultAlertPrefix,
		Model:             DefaultModel,
		Confidence:        nn.DefaultProbabilityThreshold,
		RetryDelaySeconds: DefaultRetryDelay.Seconds(),
		HTTPAddress:       DefaultHTTPAddress,
		DBPath:            DefaultDBPath,
	}
}

// Load a config file on top of the defaults, then apply environment overrides.
// If filename is empty and the default file does not exist, the defaults are returned.
func LoadConfig(filename string) (*Config, error) {
	cfg := NewConfig()
	optional := filename == ""
	if filename == "" {
		filename = DefaultFilename
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		if !(optional && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("Error loading %v: %w", filename, err)
		}
	} else if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// Environment variables override the Twilio settings from the file
func (c *Config) ApplyEnv() {
	override := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	override(&c.Twilio.AccountSID, EnvTwilioAccountSID)
	override(&c.Twilio.AuthToken, EnvTwilioAuthToken)
	override(&c.Twilio.From, EnvTwilioFrom)
	override(&c.Twilio.To, EnvTwilioTo)
}

func (c *Config) Threshold() time.Duration {
	return time.Duration(c.ThresholdSeconds * float64(time.Second))
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds * float64(time.Second))
}

// Validate returns the first problem found in the config.
// A non-positive threshold is legal, so it is reported by Warnings instead.
func (c *Config) Validate() error {
	if c.Camera == "" {
		return errors.New("camera must be specified")
	}
	if c.TargetLabel == "" {
		return errors.New("targetLabel must be specified")
	}
	if c.Model == "" {
		return errors.New("model must be specified")
	}
	// Zero would mean "use the detector default", which is never what was written in the file
	if c.Confidence <= 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence must be greater than 0 and at most 1 (got %v)", c.Confidence)
	}
	if c.RetryDelaySeconds <= 0 {
		return fmt.Errorf("retryDelaySeconds must be positive (got %v)", c.RetryDelaySeconds)
	}
	if c.DBPath == "" {
		return errors.New("dbPath must be specified")
	}
	if !c.DryRun && !c.Twilio.Enabled() {
		return fmt.Errorf("twilio accountSid, authToken, from and to must be set (or use dry run). Secrets may come from %v and %v", EnvTwilioAccountSID, EnvTwilioAuthToken)
	}
	return nil
}

// Warnings lists settings that are legal but probably not what the operator wants
func (c *Config) Warnings() []string {
	w := []string{}
	if c.ThresholdSeconds <= 0 {
		w = append(w, fmt.Sprintf("Threshold is %v seconds. Alerts will fire on the second consecutive frame that contains %v", c.ThresholdSeconds, c.TargetLabel))
	}
	if c.DryRun {
		w = append(w, "Dry run: alerts will be logged, not sent")
	}
	return w
}
