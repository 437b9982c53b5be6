package timer

import "fmt"

// FormatTime renders elapsed seconds as MM:SS.ss with zero-padded minutes
// and seconds. It is locale-independent and clamps negatives to zero so a
// clock-skewed event can never render a nonsense time.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	// Round to centiseconds first so 59.999 carries into the minute.
	centis := int64(seconds*100 + 0.5)
	minutes := centis / 6000
	centis -= minutes * 6000
	return fmt.Sprintf("%02d:%02d.%02d", minutes, centis/100, centis%100)
}
