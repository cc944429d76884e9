package faultlog

import "time"

const storedTimeLayout = "2006-01-02 15:04:05.000000"

func parseStoredTime(s string) (time.Time, error) {
	return time.ParseInLocation(storedTimeLayout, s, time.UTC)
}
