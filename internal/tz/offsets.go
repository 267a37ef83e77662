package tz

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Offsets is the full set of fixed UTC offsets in use around the world,
// ordered west to east. The bot deliberately works with fixed offsets
// rather than IANA zone names: users pick one from a keyboard, it is
// trivial to display, and there is no DST surprise hidden behind it.
var Offsets = []string{
	"-12:00", "-11:00", "-10:00", "-09:30", "-09:00", "-08:00", "-07:00",
	"-06:00", "-05:00", "-04:00", "-03:30", "-03:00", "-02:00", "-01:00",
	"+00:00", "+01:00", "+02:00", "+03:00", "+03:30", "+04:00", "+04:30",
	"+05:00", "+05:30", "+05:45", "+06:00", "+06:30", "+07:00", "+08:00",
	"+08:45", "+09:00", "+09:30", "+10:00", "+10:30", "+11:00", "+12:00",
	"+12:45", "+13:00", "+13:45", "+14:00",
}

var offsetRe = regexp.MustCompile(`^([+-])(\d{2}):(\d{2})$`)

// ParseOffset converts a "+HH:MM" / "-HH:MM" string into a fixed zone.
// Only offsets from the known table are accepted, so arbitrary strings
// coming back from callback payloads or the database cannot smuggle in
// nonsense zones.
func ParseOffset(s string) (*time.Location, error) {
	if !Valid(s) {
		return nil, fmt.Errorf("unknown utc offset %q", s)
	}
	m := offsetRe.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("malformed utc offset %q", s)
	}
	h, _ := strconv.Atoi(m[2])
	min, _ := strconv.Atoi(m[3])
	sec := h*3600 + min*60
	if m[1] == "-" {
		sec = -sec
	}
	return time.FixedZone("UTC"+s, sec), nil
}

// Valid reports whether s is one of the known offsets.
func Valid(s string) bool {
	for _, o := range Offsets {
		if o == s {
			return true
		}
	}
	return false
}
