package test

import (
	"fmt"
	"time"

	"github.com/netsift/netsift"
)

// GenUniqueDevices creates an array of unique inventory devices in the
// pending state. Hosts and ids are index-derived and never collide.
func GenUniqueDevices(n int) []*netsift.Device {
	ds := make([]*netsift.Device, 0, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ds = append(ds, &netsift.Device{
			ID:        fmt.Sprintf("device-%d", i),
			Host:      fmt.Sprintf("edge-%d.example.com", i),
			Platform:  netsift.IOSXE,
			Status:    netsift.StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return ds
}
