// Package session implements the two ends of a remote visualization
// session: a Worker that renders and streams frames, and a Viewer that
// displays them and streams state back.
//
// # Lifecycle
//
// A session moves through Connecting, MetadataExchange, Streaming,
// Terminating and Closed. The worker sends its catalog once, then the two
// sides alternate strictly: one frame from the worker, one state message
// from the viewer. The viewer ends the session by setting the quit flag,
// which it sends after the next frame; both sides then close.
//
// # Worker
//
// Serve drives a whole session against an Engine:
//
//	w := session.NewWorker(session.WorkerConfig{Port: session.DefaultPort})
//	defer w.Close()
//	err := w.Serve(ctx, engine)
//
// The step methods Accept, SendMetadata, SendFrame and ReceiveAppState
// are available for callers that run their own render loop.
//
// # Viewer
//
// NewViewer connects in the background. The owner polls for frames and
// pushes edits without blocking on the network:
//
//	v := session.NewViewer(ctx, session.ViewerConfig{Host: "render-07"})
//	var f session.Frame
//	if v.NewFrame(&f) {
//	    // decode and show f.Data
//	}
//	v.UpdateAppState(&update)
//	err := v.Close()
//
// Edits made between two state messages are merged: the camera and
// framebuffer size keep the latest value, and each flag stays set until
// it has been sent. Only the newest unconsumed frame is kept.
//
// A Presenter runs this loop against a Display.
//
// # Errors
//
// Failures are reported as *Error with a Kind: Connection, Transport,
// Codec or Protocol. Sessions are not resumed after a failure.
package session
