package output

import (
	"strconv"
	"time"

	"github.com/marmos91/xnet/internal/bytesize"
	"github.com/marmos91/xnet/internal/cli/timeutil"
	"github.com/marmos91/xnet/pkg/admin"
	"github.com/marmos91/xnet/pkg/bufpool"
)

// ConnectionList renders the admin connection table.
type ConnectionList []admin.ConnectionInfo

func (l ConnectionList) Headers() []string {
	return []string{"ID", "Network", "Remote", "Connected", "Age", "Pending"}
}

func (l ConnectionList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(l))
	for _, c := range l {
		rows = append(rows, []string{
			strconv.FormatUint(c.ID, 10),
			c.Network,
			c.Remote,
			timeutil.FormatTime(c.Since),
			timeutil.FormatAge(now.Sub(c.Since)),
			strconv.Itoa(c.Pending),
		})
	}
	return rows
}

// PoolStats renders buffer pool size classes.
type PoolStats []bufpool.ClassStats

func (p PoolStats) Headers() []string {
	return []string{"Size", "Free", "Hits", "Misses", "Dropped"}
}

func (p PoolStats) Rows() [][]string {
	rows := make([][]string, 0, len(p))
	for _, s := range p {
		rows = append(rows, []string{
			bytesize.ByteSize(s.Size).String(),
			strconv.Itoa(s.Free),
			strconv.FormatUint(s.Hits, 10),
			strconv.FormatUint(s.Misses, 10),
			strconv.FormatUint(s.Dropped, 10),
		})
	}
	return rows
}
