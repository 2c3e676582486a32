package session

import (
	"time"

	"github.com/spscale/spscale/internal/protocol"
	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/spslog"
	"github.com/spscale/spscale/spsmetrics"
)

// socketContext is the protocol.Context one Engine sees; every method
// is only ever called from the reactor goroutine, either directly from
// a command closure or from Session.HandleEvent.
type socketContext struct {
	sess *Session
	id   uint32
}

func (c *socketContext) Schedule(d time.Duration) timer.ID { return c.sess.engineSchedule(c.id, d) }
func (c *socketContext) Cancel(id timer.ID)                { c.sess.engineCancel(id) }

func (c *socketContext) CompleteSend(o protocol.Outcome) { c.sess.completeSend(c.id, o) }
func (c *socketContext) CompleteRecv(o protocol.Outcome) { c.sess.completeRecv(c.id, o) }

func (c *socketContext) Log() spslog.Logger        { return c.sess.log }
func (c *socketContext) Metrics() *spsmetrics.Set   { return c.sess.metric }
