// Package config loads remoteviz configuration files.
//
// The configuration lives in remoteviz.json, remoteviz.yaml or
// remoteviz.yml. Every key is optional; missing keys take the defaults
// from New, and command line flags override the file.
//
//	worker:
//	  port: 29374
//	  transport: tcp
//	  quality: 90
//	  maxFPS: 30
//	viewer:
//	  host: render-node-07
//	  width: 1280
//	  height: 720
//	  snapshot: s3://viz-snapshots/run-42
//	movie:
//	  frames: 25
//	  output: ./frames
//	telemetry:
//	  otlpEndpoint: localhost:4318
//	admin:
//	  addr: :9090
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Port:", cfg.Worker.Port)
package config
