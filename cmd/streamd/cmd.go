package main

type ServerCmd struct {
	HttpAddr              string `arg:"--http-addr" help:"address of the proxy server" default:""`
	MetricsAddr           string `arg:"--metrics-addr" help:"address of the metrics server" default:""`
	ConfigPath            string `arg:"--config" help:"path of the configuration file"`
	CacheParams           string `arg:"--cache-params" help:"lowKB/highKB/keepAliveSecs cache parameters"`
	DisconnectAtHighWater bool   `arg:"--disconnect-at-highwatermark" help:"drop the upstream connection when the cache window fills"`
}

type Arguments struct {
	Server   *ServerCmd `arg:"subcommand:run" help:"run the server"`
	Version  bool       `arg:"-v" help:"show version and exit"`
	LogLevel string     `arg:"--log-level" help:"set the log level" default:"info" valid:"debug,info,warn,error,fatal,panic"`
}

var version string
