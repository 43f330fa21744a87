// Package adb drives Android devices through the adb command-line tool.
//
// Client implements the capture and interaction surface the automation
// engine needs:
//
//	Capture  adb exec-out screencap -p        (PNG decoded to image.Image)
//	Tap      adb shell input tap x y
//	Swipe    adb shell input swipe x1 y1 x2 y2 ms
//	Devices  adb devices
//	GameState  pidof + dumpsys window/activity
//
// Every command runs with the configured timeout and the caller's context.
// A Client is bound to at most one device serial; WithDevice returns a copy
// bound to another.
//
// Server optionally supervises a foreground "adb -a nodaemon server" child
// so the engine does not depend on an externally started adb daemon.
package adb
