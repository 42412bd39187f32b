/*
Package catcierge implements a supervisory controller for a camera-guarded
cat door.

A backlit silhouette of an approaching animal is captured frame by frame,
matched against either a set of snout templates or a trained cascade
classifier, and the aggregated verdict drives a door lock and backlight
over GPIO. Optional RFID readers on each side of the door corroborate the
visual decision and infer the direction of travel.

# Basic Usage

	cfg := catcierge.DefaultConfig()
	cfg.Cascade = "catcierge.xml"

	matcher, err := catcierge.NewHaarMatcher(cfg.HaarConfig(), logger)
	if err != nil {
		log.Fatal(err)
	}
	defer matcher.Close()

	ctl := catcierge.NewController(cfg, matcher, actuator, out, csv, logger)

	for frame := range camera.Frames() {
		ctl.Tick(frame)
		frame.Close()
		if !ctl.Running() {
			break
		}
	}
	ctl.Shutdown()

# Core Types

Controller runs the decision state machine: Waiting, Matching, KeepOpen
and Lockout. Each captured frame advances the machine by exactly one tick.

Matcher is the verdict contract shared by the two matching strategies:
  - TemplateMatcher: normalized cross-correlation against snout templates
  - HaarMatcher: cascade head detection plus prey-contour analysis

MatchGroup aggregates a fixed window of per-frame verdicts into a single
open/lock decision, with direction inference and tie-breaking.

RFIDContext pairs the two asynchronous tag readers into a directional
verdict checked against a tag allow-list during the KeepOpen state.

# Events

Named lifecycle events (match, match_done, save_img, save_imgs,
rfid_detect, rfid_match, do_lockout, do_unlock) invoke user-supplied
commands and render output templates, see the output subpackage.
*/
package catcierge
