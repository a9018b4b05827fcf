package session

import (
	"github.com/nftcoinmkt/aibot/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesTotal *prometheus.CounterVec
	parseSkips  prometheus.Counter
	reconnects  prometheus.Counter
)

func init() {
	framesTotal = util.MustCounterVec("aibot_stream_frames_total",
		"Inbound stream frames by kind.", "kind")
	parseSkips = util.MustCounter("aibot_stream_parse_skips_total",
		"Inbound frames or payloads skipped as malformed.")
	reconnects = util.MustCounter("aibot_stream_reconnect_attempts_total",
		"Automatic reconnection attempts.")
}
