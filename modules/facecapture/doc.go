// Package facecapture is the screen-level entry point of the liveness
// pipeline: one Flow per capture screen.
//
//	flow, _ := facecapture.NewFlow(facecapture.DefaultConfig(), facecapture.Components{
//	    Device:     mgr,          // *camera.Manager
//	    Scorer:     analyzer,     // *presence.Analyzer
//	    Controller: controller,   // *stability.Controller
//	    Capturer:   engine,       // *capture.Engine
//	    Verifier:   orchestrator, // *liveness.Orchestrator
//	})
//
//	res, err := flow.Start(ctx, subjectID)
//
// Analysis runs every 200ms while searching and every 400ms while a
// countdown is active; the countdown steps once per second. A rejected
// still is discarded and the device re-acquired, up to MaxAttempts.
package facecapture
