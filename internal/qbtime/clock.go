package qbtime

import "time"

func defaultNowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
