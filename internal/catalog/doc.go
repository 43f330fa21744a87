// Package catalog loads template groups: directories of reference images
// plus a sequence descriptor listing the steps that use them.
//
// Layout:
//
//	templates/
//	  pegar_bau/
//	    sequence.yaml      (or sequence.yml / sequence.json)
//	    01_bau.png
//	    02_abrir.png
//	  _global/             (names starting with "_" are shared assets, not groups)
//
// A descriptor is either a bare list of steps or a mapping:
//
//	name: Collect chest
//	sequence:
//	  - name: open chest
//	    template_file: 01_bau.png
//	    threshold: 0.85
//	    click_offset: [0, 12]
//	    delay_after_ms: 800
//	    max_attempts: 5
//	  - type: wait
//	    delay_after_ms: 1500
//	  - type: coords
//	    coordinates: [1200, 540]
//	success_image:
//	  template_file: done.png
//
// Second-based fields (click_delay, attempt_delay, initial_delay,
// duration_seconds) are accepted for hand-written JSON files; Encode always
// writes the millisecond form.
package catalog
