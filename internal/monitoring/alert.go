package monitoring

import (
	"github.com/rs/zerolog/log"
)

// Alert logs an operator-facing drift alert. Delivery beyond the log
// stream is handled by the external alerting pipeline scraping it.
func Alert(message string, labels map[string]string) {
	log.Error().
		Str("alert", message).
		Fields(labels).
		Msg("ALERT: integrity drift detected")
}
