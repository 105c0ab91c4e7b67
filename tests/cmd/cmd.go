package main

type SeekloadCmd struct {
	Urls      string `arg:"--urls" help:"space separated upstream URLs"`
	ProxyHost string `arg:"--proxy" help:"the proxy host, such as http://127.0.0.1:7000"`
	Readers   int    `arg:"--readers" help:"number of concurrent readers" default:"4"`
	Seeks     int    `arg:"--seeks" help:"number of random seeks per stream" default:"8"`
}

type ScanCmd struct {
	Url       string `arg:"--url" help:"upstream URL to scan"`
	ProxyHost string `arg:"--proxy" help:"the proxy host, such as http://127.0.0.1:7000"`
}

type Arguments struct {
	Seekload *SeekloadCmd `arg:"subcommand:seekload"`
	Scan     *ScanCmd     `arg:"subcommand:scan"`
	Version  bool         `arg:"-v" help:"show version and exit"`
}

var version string
