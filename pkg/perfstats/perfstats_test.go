package perfstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeAccumulator(t *testing.T) {
	a := TimeAccumulator{}
	require.Equal(t, time.Duration(0), a.Average())
	a.AddSample(10 * time.Millisecond)
	a.AddSample(30 * time.Millisecond)
	require.Equal(t, 20*time.Millisecond, a.Average())
	require.Equal(t, 30*time.Millisecond, a.Max)
	a.Reset()
	require.Equal(t, int64(0), a.Samples)
}

func TestStages(t *testing.T) {
	s := NewStages("acquire", "detect")
	s.AddSample("detect", 80*time.Millisecond)
	s.AddSample("acquire", 10*time.Millisecond)
	s.AddSample("acquire", 20*time.Millisecond)
	require.Equal(t, "acquire 15ms (max 20ms), detect 80ms (max 80ms)", s.Summary())

	s.Reset()
	require.Equal(t, "acquire 0s (max 0s), detect 0s (max 0s)", s.Summary())
}
